package safeguard

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// PolicyConfig is the local, config-driven rule set.
type PolicyConfig struct {
	// AllowGeneration=false blocks every origin.
	AllowGeneration bool
	BlockOrigins    []Origin

	// QuietStart/QuietEnd are "HH:MM" in QuietLocation. Both empty disables quiet hours.
	// Quiet hours only apply to scheduled runs.
	QuietStart    string
	QuietEnd      string
	QuietLocation *time.Location
}

// Policy is a hot-reloadable local gate.
type Policy struct {
	mu  sync.RWMutex
	cfg PolicyConfig

	quiet        bool
	qStart, qEnd int // minutes since midnight

	now func() time.Time
}

func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{now: time.Now}
	if err := p.Apply(cfg); err != nil {
		return nil, err
	}
	return p, nil
}

// Apply swaps the rule set. An invalid config leaves the previous one in place.
func (p *Policy) Apply(cfg PolicyConfig) error {
	for _, o := range cfg.BlockOrigins {
		if !o.Valid() {
			return errors.Newf("unknown origin %q", o)
		}
	}
	var (
		quiet        bool
		qStart, qEnd int
	)
	if strings.TrimSpace(cfg.QuietStart) != "" || strings.TrimSpace(cfg.QuietEnd) != "" {
		var err error
		if qStart, err = clockMinutes(cfg.QuietStart); err != nil {
			return errors.Wrap(err, "quiet hours start")
		}
		if qEnd, err = clockMinutes(cfg.QuietEnd); err != nil {
			return errors.Wrap(err, "quiet hours end")
		}
		quiet = qStart != qEnd
	}
	if cfg.QuietLocation == nil {
		cfg.QuietLocation = time.UTC
	}
	cfg.BlockOrigins = append([]Origin(nil), cfg.BlockOrigins...)

	p.mu.Lock()
	p.cfg = cfg
	p.quiet, p.qStart, p.qEnd = quiet, qStart, qEnd
	p.mu.Unlock()
	return nil
}

func (p *Policy) Evaluate(ctx context.Context, req Request) Verdict {
	_ = ctx
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.cfg.AllowGeneration {
		return Deny("generation is disabled by safeguard policy")
	}
	for _, o := range p.cfg.BlockOrigins {
		if o == req.Origin {
			return Deny(fmt.Sprintf("origin %s is blocked by safeguard policy", req.Origin))
		}
	}
	if p.quiet && req.Origin == OriginScheduled {
		local := p.now().In(p.cfg.QuietLocation)
		m := local.Hour()*60 + local.Minute()
		if inWindow(m, p.qStart, p.qEnd) {
			return Deny(fmt.Sprintf("quiet hours %s-%s (%s)", p.cfg.QuietStart, p.cfg.QuietEnd, p.cfg.QuietLocation))
		}
	}
	return Allow()
}

// inWindow reports whether m is in [start, end), wrapping midnight when end < start.
func inWindow(m, start, end int) bool {
	if start < end {
		return m >= start && m < end
	}
	return m >= start || m < end
}

func clockMinutes(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, errors.Newf("expected HH:MM, got %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}
