// Package app wires the daemon together: configuration, logging, the
// worker pool, history storage, schedules, and the HTTP API.
package app

import (
	"context"
	"time"

	"taskd/internal/api"
	"taskd/internal/config"
	"taskd/internal/eventbus"
	"taskd/internal/jobs"
	"taskd/internal/runtime/supervisor"
	"taskd/internal/schedule"
	"taskd/internal/storage"
	logx "taskd/pkg/logx"
	"taskd/pkg/pool"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	reg   *pool.Registry
	pool  *pool.Pool
	store storage.Store
	sched *schedule.Service
	api   *api.Server

	defaultTimeout time.Duration
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	defaultTimeout, err := config.ParseDurationField("pool.default_timeout", cfg.Pool.DefaultTimeout)
	if err != nil {
		logSvc.Close()
		return nil, err
	}

	bus := eventbus.New()

	reg := pool.NewRegistry()
	jobs.Register(reg)

	p := pool.New(pool.Options{
		Workers:       cfg.Pool.Workers,
		MaxQueueDepth: cfg.Pool.MaxQueueDepth,
		Registry:      reg,
		Log:           log.With(logx.String("comp", "pool")),
		OnEvent:       bridgeEvents(bus),
	})

	var store storage.Store
	if cfg.Storage != nil {
		sc, err := mapStorageConfig(cfg.Storage)
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			logSvc.Close()
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("storage enabled", logx.String("driver", sc.Driver))
		}
	}

	sched := schedule.New(p, log.With(logx.String("comp", "schedule")))
	if err := sched.Apply(cfg.Schedules, defaultTimeout); err != nil {
		logSvc.Close()
		return nil, err
	}

	a := &App{
		cfgm:           cfgm,
		log:            log,
		logs:           logSvc,
		bus:            bus,
		reg:            reg,
		pool:           p,
		store:          store,
		sched:          sched,
		defaultTimeout: defaultTimeout,
	}
	if cfg.HTTP.Enabled {
		a.api = api.New(cfg.HTTP, api.Deps{
			Pool:           p,
			Registry:       reg,
			Store:          store,
			Log:            log.With(logx.String("comp", "api")),
			DefaultTimeout: defaultTimeout,
		})
	}
	return a, nil
}

// Pool exposes the task pool, mainly for tests and embedding.
func (a *App) Pool() *pool.Pool { return a.pool }

// Done is closed when the app context ends (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx,
		supervisor.WithLogger(a.log),
		supervisor.WithCancelOnError(true))

	if a.store != nil {
		rec := storage.NewRecorder(a.store, a.bus, a.log.With(logx.String("comp", "recorder")))
		a.sup.Go0("storage.recorder", rec.Run)
	}

	a.sched.Start()

	if a.api != nil {
		a.sup.Go("http.api", a.api.Run)
	}

	// Debug visibility into the task lifecycle.
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

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(c, sub)
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("taskd started")
	return nil
}

// Stop shuts the daemon down: scheduling stops first so nothing new is
// submitted, then the pool drains, then everything else unwinds.
func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	a.sched.Stop(ctx)

	if err := a.pool.Shutdown(ctx); err != nil {
		a.log.Warn("pool shutdown incomplete", logx.Err(err))
	}

	a.sup.Cancel()
	err := a.sup.Wait(ctx)

	if a.store != nil {
		if cerr := a.store.Close(); cerr != nil {
			a.log.Warn("storage close failed", logx.Err(cerr))
		}
	}

	a.log.Info("stopped")
	a.logs.Close()
	return err
}

// reloadLoop applies config changes published by the manager. Pool size
// and storage driver changes require a restart; everything else is live.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: keep only the newest config.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						cfg = newer
					}
				default:
					goto APPLY
				}
			}
		APPLY:
			a.applyConfig(cfg)
		}
	}
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(mapLogConfig(cfg))

	defaultTimeout, err := config.ParseDurationField("pool.default_timeout", cfg.Pool.DefaultTimeout)
	if err != nil {
		a.log.Warn("invalid default timeout; keeping previous", logx.Err(err))
		defaultTimeout = a.defaultTimeout
	}
	a.defaultTimeout = defaultTimeout

	if err := a.sched.Apply(cfg.Schedules, defaultTimeout); err != nil {
		a.log.Warn("invalid schedules; keeping previous", logx.Err(err))
	}

	a.log.Info("config reloaded")
}

// bridgeEvents republishes pool lifecycle events on the daemon bus.
func bridgeEvents(bus eventbus.Bus) func(pool.Event) {
	kinds := map[pool.EventKind]string{
		pool.EventQueued:    eventbus.TaskQueued,
		pool.EventStarted:   eventbus.TaskStarted,
		pool.EventCompleted: eventbus.TaskCompleted,
		pool.EventFailed:    eventbus.TaskFailed,
		pool.EventCancelled: eventbus.TaskCancelled,
		pool.EventTimeout:   eventbus.TaskTimeout,
	}
	return func(e pool.Event) {
		typ, ok := kinds[e.Kind]
		if !ok {
			return
		}
		bus.Publish(eventbus.Event{Type: typ, Time: e.At, Data: e})
	}
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(sc *config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", sc.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
		MaxEntries:  sc.MaxEntries,
	}, nil
}
