package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DailySpec is a once-a-day local wall-clock time.
type DailySpec struct {
	At       string // "HH:MM"
	Timezone string // IANA name; empty means UTC
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*$`)

// ParseHHMM parses a 24h "HH:MM" time of day.
func ParseHHMM(v string) (hour, minute int, err error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM)", v)
	}
	hour, _ = strconv.Atoi(m[1])
	minute, _ = strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time %q (want 00:00-23:59)", v)
	}
	return hour, minute, nil
}

// Location resolves the spec's timezone.
func (d DailySpec) Location() (*time.Location, error) {
	tz := strings.TrimSpace(d.Timezone)
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tz, err)
	}
	return loc, nil
}

// Validate checks both the time of day and the timezone.
func (d DailySpec) Validate() error {
	if _, _, err := ParseHHMM(d.At); err != nil {
		return err
	}
	_, err := d.Location()
	return err
}

// CronExpr renders the spec as a timezone-pinned cron expression.
func (d DailySpec) CronExpr() (string, error) {
	h, m, err := ParseHHMM(d.At)
	if err != nil {
		return "", err
	}
	loc, err := d.Location()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("CRON_TZ=%s %d %d * * *", loc.String(), m, h), nil
}

var specParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func parseDaily(d DailySpec) (string, cron.Schedule, error) {
	expr, err := d.CronExpr()
	if err != nil {
		return "", nil, err
	}
	sched, err := specParser.Parse(expr)
	if err != nil {
		return "", nil, fmt.Errorf("parse %q: %w", expr, err)
	}
	return expr, sched, nil
}

// NextRun returns the first fire strictly after now, using the same schedule
// an armed timer would.
func NextRun(d DailySpec, now time.Time) (time.Time, error) {
	_, sched, err := parseDaily(d)
	if err != nil {
		return time.Time{}, err
	}
	next := sched.Next(now)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("no next run for %s %s", d.At, d.Timezone)
	}
	return next, nil
}
