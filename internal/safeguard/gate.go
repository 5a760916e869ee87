// Package safeguard decides whether a generation run may proceed.
//
// Every execution path asks the gate first, tagged with its origin. A denial
// carries a human-readable reason that callers persist as the job's last error.
package safeguard

import "context"

// Origin identifies the execution path asking for permission.
type Origin string

const (
	OriginScheduled Origin = "scheduled_job"
	OriginManual    Origin = "manual_trigger"
	OriginStartup   Origin = "startup_init"
)

func (o Origin) Valid() bool {
	switch o {
	case OriginScheduled, OriginManual, OriginStartup:
		return true
	}
	return false
}

type Request struct {
	Origin Origin
	JobID  int64 // 0 for startup_init
}

type Verdict struct {
	Allowed bool
	Reason  string
}

func Allow() Verdict { return Verdict{Allowed: true} }

func Deny(reason string) Verdict { return Verdict{Allowed: false, Reason: reason} }

// Gate is the pre-execution policy check.
// Implementations must be safe for concurrent use and must not panic.
type Gate interface {
	Evaluate(ctx context.Context, req Request) Verdict
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, req Request) Verdict

func (f GateFunc) Evaluate(ctx context.Context, req Request) Verdict { return f(ctx, req) }

// AllowAll is a gate that never blocks.
var AllowAll Gate = GateFunc(func(context.Context, Request) Verdict { return Allow() })

// Chain evaluates gates in order; the first denial wins.
type Chain []Gate

func (c Chain) Evaluate(ctx context.Context, req Request) Verdict {
	for _, g := range c {
		if g == nil {
			continue
		}
		if v := g.Evaluate(ctx, req); !v.Allowed {
			return v
		}
	}
	return Allow()
}
