package app

import (
	"context"
	"sync/atomic"

	"contentpilot/internal/config"
	"contentpilot/internal/safeguard"
	logx "contentpilot/pkg/logx"
)

// reloadableGate is the executor's safeguard. The local policy is applied in
// place; the remote check is rebuilt when its URL or timeout changes.
type reloadableGate struct {
	policy *safeguard.Policy
	remote atomic.Pointer[remoteSlot]
	log    logx.Logger
}

type remoteSlot struct {
	gate safeguard.Gate
}

func newReloadableGate(cfg *config.Config, log logx.Logger) (*reloadableGate, error) {
	pc, err := mapPolicyConfig(cfg)
	if err != nil {
		return nil, err
	}
	policy, err := safeguard.NewPolicy(pc)
	if err != nil {
		return nil, err
	}
	g := &reloadableGate{policy: policy, log: log}
	if err := g.setRemote(cfg); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *reloadableGate) setRemote(cfg *config.Config) error {
	rg, err := remoteGate(cfg, g.log)
	if err != nil {
		return err
	}
	g.remote.Store(&remoteSlot{gate: rg})
	return nil
}

func (g *reloadableGate) Apply(cfg *config.Config) error {
	pc, err := mapPolicyConfig(cfg)
	if err != nil {
		return err
	}
	if err := g.policy.Apply(pc); err != nil {
		return err
	}
	return g.setRemote(cfg)
}

func (g *reloadableGate) Evaluate(ctx context.Context, req safeguard.Request) safeguard.Verdict {
	chain := safeguard.Chain{g.policy}
	if slot := g.remote.Load(); slot != nil && slot.gate != nil {
		chain = append(chain, slot.gate)
	}
	return chain.Evaluate(ctx, req)
}
