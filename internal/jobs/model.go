package jobs

import (
	"net/url"
	"strings"
	"time"

	"contentpilot/internal/storage"
	"contentpilot/internal/task/scheduler"
)

const maxNameLen = 200

// Defaults fill fields a create request leaves out.
type Defaults struct {
	UserID    string
	Timezone  string
	AIModel   string
	Tones     []string
	Templates []string
	Platforms []string
}

func (d Defaults) withFallbacks() Defaults {
	if strings.TrimSpace(d.UserID) == "" {
		d.UserID = "admin"
	}
	if strings.TrimSpace(d.Timezone) == "" {
		d.Timezone = "UTC"
	}
	if strings.TrimSpace(d.AIModel) == "" {
		d.AIModel = "claude"
	}
	if len(d.Tones) == 0 {
		d.Tones = []string{"friendly"}
	}
	if len(d.Templates) == 0 {
		d.Templates = []string{"product-spotlight"}
	}
	if len(d.Platforms) == 0 {
		d.Platforms = []string{"instagram"}
	}
	return d
}

// CreateRequest is a job definition without statistics.
// IsActive defaults to true.
type CreateRequest struct {
	UserID                 string   `json:"userId"`
	Name                   string   `json:"name"`
	ScheduleTime           string   `json:"scheduleTime"`
	Timezone               string   `json:"timezone"`
	SelectedNiches         []string `json:"selectedNiches"`
	Tones                  []string `json:"tones"`
	Templates              []string `json:"templates"`
	Platforms              []string `json:"platforms"`
	UseExistingProducts    bool     `json:"useExistingProducts"`
	GenerateAffiliateLinks bool     `json:"generateAffiliateLinks"`
	UseSpartanFormat       bool     `json:"useSpartanFormat"`
	UseSmartStyle          bool     `json:"useSmartStyle"`
	AIModel                string   `json:"aiModel"`
	AffiliateID            *string  `json:"affiliateId"`
	WebhookURL             *string  `json:"webhookUrl"`
	SendToMakeWebhook      bool     `json:"sendToMakeWebhook"`
	IsActive               *bool    `json:"isActive"`
}

func (r CreateRequest) toJob(d Defaults) storage.Job {
	d = d.withFallbacks()
	j := storage.Job{
		UserID:                 firstNonEmpty(r.UserID, d.UserID),
		Name:                   strings.TrimSpace(r.Name),
		ScheduleTime:           strings.TrimSpace(r.ScheduleTime),
		Timezone:               firstNonEmpty(r.Timezone, d.Timezone),
		SelectedNiches:         cleanList(r.SelectedNiches),
		Tones:                  orDefault(r.Tones, d.Tones),
		Templates:              orDefault(r.Templates, d.Templates),
		Platforms:              orDefault(r.Platforms, d.Platforms),
		UseExistingProducts:    r.UseExistingProducts,
		GenerateAffiliateLinks: r.GenerateAffiliateLinks,
		UseSpartanFormat:       r.UseSpartanFormat,
		UseSmartStyle:          r.UseSmartStyle,
		AIModel:                firstNonEmpty(r.AIModel, d.AIModel),
		AffiliateID:            optional(r.AffiliateID),
		WebhookURL:             optional(r.WebhookURL),
		SendToMakeWebhook:      r.SendToMakeWebhook,
		IsActive:               true,
	}
	if r.IsActive != nil {
		j.IsActive = *r.IsActive
	}
	return j
}

// JobUpdate is a partial update. Nil fields are left unchanged; an empty
// affiliateId or webhookUrl clears the value.
type JobUpdate struct {
	Name                   *string   `json:"name"`
	ScheduleTime           *string   `json:"scheduleTime"`
	Timezone               *string   `json:"timezone"`
	SelectedNiches         *[]string `json:"selectedNiches"`
	Tones                  *[]string `json:"tones"`
	Templates              *[]string `json:"templates"`
	Platforms              *[]string `json:"platforms"`
	UseExistingProducts    *bool     `json:"useExistingProducts"`
	GenerateAffiliateLinks *bool     `json:"generateAffiliateLinks"`
	UseSpartanFormat       *bool     `json:"useSpartanFormat"`
	UseSmartStyle          *bool     `json:"useSmartStyle"`
	AIModel                *string   `json:"aiModel"`
	AffiliateID            *string   `json:"affiliateId"`
	WebhookURL             *string   `json:"webhookUrl"`
	SendToMakeWebhook      *bool     `json:"sendToMakeWebhook"`
	IsActive               *bool     `json:"isActive"`
}

func (u JobUpdate) apply(cur storage.Job) storage.Job {
	j := cur.Clone()
	setStr(&j.Name, u.Name)
	setStr(&j.ScheduleTime, u.ScheduleTime)
	setStr(&j.Timezone, u.Timezone)
	setStr(&j.AIModel, u.AIModel)
	setList(&j.SelectedNiches, u.SelectedNiches)
	setList(&j.Tones, u.Tones)
	setList(&j.Templates, u.Templates)
	setList(&j.Platforms, u.Platforms)
	setBool(&j.UseExistingProducts, u.UseExistingProducts)
	setBool(&j.GenerateAffiliateLinks, u.GenerateAffiliateLinks)
	setBool(&j.UseSpartanFormat, u.UseSpartanFormat)
	setBool(&j.UseSmartStyle, u.UseSmartStyle)
	setBool(&j.SendToMakeWebhook, u.SendToMakeWebhook)
	setBool(&j.IsActive, u.IsActive)
	if u.AffiliateID != nil {
		j.AffiliateID = optional(u.AffiliateID)
	}
	if u.WebhookURL != nil {
		j.WebhookURL = optional(u.WebhookURL)
	}
	return j
}

func dailySpec(j storage.Job) scheduler.DailySpec {
	return scheduler.DailySpec{At: j.ScheduleTime, Timezone: j.Timezone}
}

// validateDefinition checks everything the API accepts from a caller.
func validateDefinition(j storage.Job) error {
	if j.Name == "" {
		return invalid("name", "name is required")
	}
	if len(j.Name) > maxNameLen {
		return invalid("name", "name must be at most 200 characters")
	}
	if _, _, err := scheduler.ParseHHMM(j.ScheduleTime); err != nil {
		return invalid("scheduleTime", "scheduleTime must be HH:MM in 24h format, e.g. 06:30")
	}
	if _, err := dailySpec(j).Location(); err != nil {
		return invalid("timezone", "timezone must be an IANA name such as America/New_York")
	}
	if err := validateParams(j); err != nil {
		return err
	}
	if strings.TrimSpace(j.AIModel) == "" {
		return invalid("aiModel", "aiModel is required")
	}
	if j.WebhookURL != nil {
		u, err := url.Parse(*j.WebhookURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("webhookUrl", "webhookUrl must be an absolute http(s) URL")
		}
	}
	return nil
}

// validateParams checks the generation parameters. The executor re-checks
// them before every call.
func validateParams(j storage.Job) error {
	switch {
	case len(j.SelectedNiches) == 0:
		return invalid("selectedNiches", "select at least one niche")
	case len(j.Tones) == 0:
		return invalid("tones", "select at least one tone")
	case len(j.Templates) == 0:
		return invalid("templates", "select at least one template")
	case len(j.Platforms) == 0:
		return invalid("platforms", "select at least one platform")
	}
	return nil
}

func nextRunAt(j storage.Job, now time.Time) (time.Time, error) {
	return scheduler.NextRun(dailySpec(j), now)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func orDefault(in, def []string) []string {
	if in == nil {
		return append([]string(nil), def...)
	}
	return cleanList(in)
}

func optional(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

func setStr(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setList(dst *[]string, v *[]string) {
	if v != nil {
		*dst = cleanList(*v)
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
