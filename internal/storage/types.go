package storage

import (
	"time"

	"github.com/cockroachdb/errors"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("job not found")
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps; Path (optional) enables a JSON snapshot file
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// RunHistoryPerJob caps run records kept per job. 0 means 50.
	RunHistoryPerJob int
}

const defaultRunHistoryPerJob = 50

func (c Config) historyCap() int {
	if c.RunHistoryPerJob > 0 {
		return c.RunHistoryPerJob
	}
	return defaultRunHistoryPerJob
}

// Job is a persisted recurring bulk-generation definition plus its run statistics.
type Job struct {
	ID           int64  `json:"id"`
	UserID       string `json:"userId"`
	Name         string `json:"name"`
	ScheduleTime string `json:"scheduleTime"`
	Timezone     string `json:"timezone"`

	SelectedNiches []string `json:"selectedNiches"`
	Tones          []string `json:"tones"`
	Templates      []string `json:"templates"`
	Platforms      []string `json:"platforms"`

	UseExistingProducts    bool    `json:"useExistingProducts"`
	GenerateAffiliateLinks bool    `json:"generateAffiliateLinks"`
	UseSpartanFormat       bool    `json:"useSpartanFormat"`
	UseSmartStyle          bool    `json:"useSmartStyle"`
	AIModel                string  `json:"aiModel"`
	AffiliateID            *string `json:"affiliateId"`
	WebhookURL             *string `json:"webhookUrl"`
	SendToMakeWebhook      bool    `json:"sendToMakeWebhook"`

	IsActive bool `json:"isActive"`

	LastRunAt           *time.Time `json:"lastRunAt"`
	NextRunAt           time.Time  `json:"nextRunAt"`
	TotalRuns           int        `json:"totalRuns"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
	LastError           *string    `json:"lastError"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy so callers never share slices or pointers with the store.
func (j Job) Clone() Job {
	cp := j
	cp.SelectedNiches = cloneStrings(j.SelectedNiches)
	cp.Tones = cloneStrings(j.Tones)
	cp.Templates = cloneStrings(j.Templates)
	cp.Platforms = cloneStrings(j.Platforms)
	cp.AffiliateID = clonePtr(j.AffiliateID)
	cp.WebhookURL = clonePtr(j.WebhookURL)
	cp.LastError = clonePtr(j.LastError)
	cp.LastRunAt = clonePtr(j.LastRunAt)
	return cp
}

// Run statuses.
const (
	RunCompleted = "completed"
	RunFailed    = "failed"
	RunBlocked   = "blocked"
	RunSkipped   = "skipped"
)

// RunRecord is one execution attempt (or a blocked/skipped fire) of a job.
type RunRecord struct {
	ID             string    `json:"id"`
	JobID          int64     `json:"jobId"`
	Origin         string    `json:"origin"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"startedAt"`
	DurationMS     int64     `json:"durationMs"`
	GeneratedCount int       `json:"generatedCount"`
	Error          string    `json:"error,omitempty"`
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	return append([]string(nil), in...)
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
