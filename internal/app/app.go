package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"contentpilot/internal/config"
	"contentpilot/internal/eventbus"
	"contentpilot/internal/generator"
	"contentpilot/internal/httpapi"
	"contentpilot/internal/jobs"
	"contentpilot/internal/notifier"
	"contentpilot/internal/runtime/supervisor"
	"contentpilot/internal/storage"
	"contentpilot/internal/task/engine"
	"contentpilot/internal/task/scheduler"
	logx "contentpilot/pkg/logx"
)

var (
	_ jobs.Timers          = (*scheduler.Registry)(nil)
	_ scheduler.Dispatcher = (*engine.Service)(nil)
	_ httpapi.JobService   = (*jobs.Service)(nil)
)

// App wires the orchestrator: store, gate, executor, timer registry, admin
// API and alerts, plus config hot reload.
type App struct {
	cfgPath string
	cfgm    *config.Manager
	log     logx.Logger
	logs    *logx.Service
	bus     *eventbus.MemBus
	store   storage.Store

	engine   *engine.Service
	registry *scheduler.Registry
	gate     *reloadableGate
	jobs     *jobs.Service
	notif    *notifier.Service
	http     *httpapi.Server
	sd       sdNotifier

	sup *supervisor.Supervisor
}

// New loads the config at cfgPath and builds every component. Nothing is
// started until Start.
func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfgm.SetValidator(validateRuntime)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	// Close the store if anything below fails.
	ok := false
	defer func() {
		if !ok {
			_ = store.Close()
		}
	}()

	ec, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(ec, log, bus)
	reg := scheduler.NewRegistry(eng, ec.DefaultTimeout, log, bus)

	gate, err := newReloadableGate(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("safeguard: %w", err)
	}

	gc, err := mapGeneratorConfig(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := generator.New(gc, log)
	if err != nil {
		return nil, err
	}

	exec := jobs.NewExecutor(store, gen, gate, bus, log)
	svc := jobs.NewService(store, reg, exec, jobDefaults(cfg), bus, log)

	notif, err := newNotifier(cfg, log, bus, store)
	if err != nil {
		return nil, err
	}

	hc, err := mapHTTPConfig(cfg)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		engine:   eng,
		registry: reg,
		gate:     gate,
		jobs:     svc,
		notif:    notif,
		sd:       sdNotifier{enabled: cfg.Systemd.Notify, log: log.With(logx.String("comp", "systemd"))},
	}
	a.http = httpapi.New(hc, svc, bus, a.health, log)
	ok = true
	return a, nil
}

// newNotifier returns nil when no Telegram token is configured.
func newNotifier(cfg *config.Config, log logx.Logger, bus eventbus.Bus, store storage.Store) (*notifier.Service, error) {
	nc, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Notifier == nil || strings.TrimSpace(cfg.Notifier.Telegram.Token) == "" {
		return nil, nil
	}
	sender, err := notifier.NewTelegram(cfg.Notifier.Telegram.Token, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	return notifier.New(nc, sender, log, bus, store), nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	cfg := a.cfgm.Get()

	a.engine.Start(a.sup.Context())
	if a.notif != nil && a.notif.Enabled() {
		a.notif.Start(a.sup.Context())
	}

	// Arm persisted jobs before the clock starts so nothing fires half-registered.
	armed, err := a.jobs.Init(a.sup.Context())
	switch {
	case jobs.IsBlocked(err):
		a.log.Warn("startup initialization blocked; no jobs armed", logx.Err(err))
	case err != nil:
		return fmt.Errorf("init jobs: %w", err)
	default:
		a.log.Info("jobs armed", logx.Int("count", armed))
	}
	if cfg.Scheduler.Enabled {
		a.registry.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; timers are armed but will not fire")
	}

	if err := a.http.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.log.Enabled(logx.ParseLevel("debug")) {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub, cfg)
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.sd.startWatchdog(a.sup, func() bool { return a.sup.Context().Err() == nil })
	a.sd.Ready()
	a.log.Info("app started", logx.String("addr", a.http.Addr()))
	return nil
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.sd.Stopping()
	a.log.Info("stopping", logx.String("reason", string(reason)))

	a.sup.Cancel()

	// step bounds one shutdown stage so a stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		start := time.Now()
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()

		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("stop step panicked", logx.String("name", name), logx.Any("panic", r))
				}
			}()
			fn(stepCtx)
		}()

		select {
		case <-done:
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
		}
	}

	// Stop intake first, then let in-flight runs drain.
	step("http", 5*time.Second, a.http.Stop)
	step("scheduler", 2*time.Second, a.registry.Stop)
	step("taskengine", 10*time.Second, a.engine.Stop)
	step("notifier", 2*time.Second, func(c context.Context) {
		if a.notif != nil {
			a.notif.Stop(c)
		}
	})
	step("storage", time.Second, func(context.Context) {
		if err := a.store.Close(); err != nil {
			a.log.Warn("storage close failed", logx.Err(err))
		}
	})
	step("supervisor", 2*time.Second, func(c context.Context) { _ = a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// healthReport is the /healthz details body.
type healthReport struct {
	Armed      int                 `json:"armed"`
	Scheduler  bool                `json:"scheduler"`
	Engine     engineHealth        `json:"engine"`
	Bus        eventbus.Stats      `json:"bus"`
	Notifier   bool                `json:"notifier"`
	Supervisor supervisor.Snapshot `json:"supervisor"`
}

type engineHealth struct {
	Running  bool   `json:"running"`
	Workers  int    `json:"workers"`
	QueueLen int    `json:"queueLen"`
	QueueCap int    `json:"queueCap"`
	InFlight int    `json:"inFlight"`
	Dropped  uint64 `json:"dropped"`
	Skipped  uint64 `json:"skipped"`
}

func (a *App) health() any {
	es := a.engine.Snapshot()
	return healthReport{
		Armed:     a.registry.Len(),
		Scheduler: a.registry.Started(),
		Engine: engineHealth{
			Running:  es.Running,
			Workers:  es.Workers,
			QueueLen: es.QueueLen,
			QueueCap: es.QueueCap,
			InFlight: es.InFlight,
			Dropped:  es.Dropped,
			Skipped:  es.Skipped,
		},
		Bus:        a.bus.Stats(),
		Notifier:   a.notif != nil && a.notif.Enabled(),
		Supervisor: a.sup.Snapshot(),
	}
}

// CheckConfig parses and validates the config at path without starting anything.
func CheckConfig(path string) (*config.Config, error) {
	m := config.NewManager(path)
	m.SetValidator(validateRuntime)
	return m.Read()
}
