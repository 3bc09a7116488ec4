package daemon

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/matheus3301/flashd/internal/boltstore"
	"github.com/matheus3301/flashd/internal/bus"
	"github.com/matheus3301/flashd/internal/config"
	"github.com/matheus3301/flashd/internal/dispatch"
	"github.com/matheus3301/flashd/internal/flash"
	"github.com/matheus3301/flashd/internal/instance"
	"github.com/matheus3301/flashd/internal/lock"
	"github.com/matheus3301/flashd/internal/logging"
	"github.com/matheus3301/flashd/internal/metrics"
	"github.com/matheus3301/flashd/internal/session"
	"github.com/matheus3301/flashd/internal/status"
	"github.com/matheus3301/flashd/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved instance configuration passed to the fx module.
type Params struct {
	InstanceName string
	SocketPath   string // optional override for testing; empty = use default
	HTTPAddr     string // optional override of http.addr
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLevel,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideBackend,
			provideDispatcher,
			provideCollector,
			provideReaper,
			NewServer,
			provideControl,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	if err := instance.EnsureDir(p.InstanceName); err != nil {
		return nil, err
	}
	cfg, err := config.LoadOrDefault(instance.ConfigPath(p.InstanceName))
	if err != nil {
		return nil, err
	}
	if p.HTTPAddr != "" {
		cfg.HTTP.Addr = p.HTTPAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLevel(cfg *config.Config) (zap.AtomicLevel, error) {
	lvl, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return zap.AtomicLevel{}, err
	}
	return zap.NewAtomicLevelAt(lvl), nil
}

func provideLogger(p Params, level zap.AtomicLevel) (*zap.Logger, error) {
	return logging.New(instance.LogPath(p.InstanceName), p.InstanceName, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring instance lock", zap.String("instance", p.InstanceName))
	l, err := lock.Acquire(instance.Dir(p.InstanceName), lock.Owner{})
	if err != nil {
		return nil, err
	}
	logger.Info("instance lock acquired")
	return l, nil
}

// provideBackend opens the configured session backend. It returns nil when
// sessions are disabled. The lock is a dependency so two daemons never open
// the same database.
func provideBackend(lc fx.Lifecycle, p Params, cfg *config.Config, _ *lock.Lock, logger *zap.Logger) (session.Backend, error) {
	if !cfg.Session.Enabled {
		logger.Info("sessions disabled, flash is per-request only")
		return nil, nil
	}

	switch cfg.Session.Backend {
	case config.BackendMemory:
		logger.Info("session backend initialized", zap.String("backend", config.BackendMemory))
		return session.NewMemory(), nil

	case config.BackendSQLite:
		dbPath := instance.SQLitePath(p.InstanceName)
		db, err := store.Open(dbPath)
		if err != nil {
			return nil, err
		}
		result, err := db.Migrate()
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if result.Changed {
			logger.Info("migrations applied", zap.Uint("version", result.Version))
		} else {
			logger.Info("migrations up to date", zap.Uint("version", result.Version))
		}
		lc.Append(fx.StopHook(db.Close))
		logger.Info("session backend initialized", zap.String("backend", config.BackendSQLite), zap.String("path", dbPath))
		return db, nil

	case config.BackendBolt:
		path := instance.BoltPath(p.InstanceName)
		st, err := boltstore.Open(path)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.StopHook(st.Close))
		logger.Info("session backend initialized", zap.String("backend", config.BackendBolt), zap.String("path", path))
		return st, nil
	}
	return nil, fmt.Errorf("unknown session backend %q", cfg.Session.Backend)
}

// provideDispatcher registers the session hook ahead of the flash hook so the
// flash can read its state from the session and write it back before the
// session is saved.
func provideDispatcher(cfg *config.Config, backend session.Backend, b *bus.Bus, logger *zap.Logger) *dispatch.Dispatcher {
	d := dispatch.New(logger, b)
	if backend != nil {
		d.Use(session.NewHook(backend, session.Options{
			CookieName: cfg.Session.CookieName,
			Path:       "/",
			Secure:     cfg.Session.Secure,
			MaxAge:     cfg.Session.TTL.Duration,
		}, logger.Named("session"), b))
	}
	d.Use(flash.NewHook(b))
	logger.Info("dispatcher ready", zap.Strings("hooks", d.Hooks()))
	return d
}

func provideCollector(backend session.Backend, b *bus.Bus, logger *zap.Logger) *metrics.Collector {
	c := metrics.New(b, logger.Named("metrics"))
	if counter, ok := backend.(session.Counter); ok {
		c.WatchSessions(counter)
	}
	return c
}

// provideReaper returns nil when sessions are disabled or never expire
// (session.ttl = 0).
func provideReaper(cfg *config.Config, backend session.Backend, b *bus.Bus, logger *zap.Logger) *session.Reaper {
	if backend == nil {
		return nil
	}
	if cfg.Session.TTL.Duration <= 0 {
		logger.Info("session expiry disabled")
		return nil
	}
	return session.NewReaper(backend, cfg.Session.TTL.Duration, b, logger.Named("reaper"))
}

func provideControl(p Params, logger *zap.Logger) (*Control, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = instance.SocketPath(p.InstanceName)
	}
	return NewControl(socketPath, logger.Named("control"))
}

func registerLifecycle(lc fx.Lifecycle, p Params, srv *Server, ctl *Control, machine *status.Machine, lk *lock.Lock, collector *metrics.Collector, reaper *session.Reaper, level zap.AtomicLevel, logger *zap.Logger) {
	var (
		cancel context.CancelFunc
		wg     sync.WaitGroup
	)
	transition := func(to status.State) {
		if err := machine.Transition(to); err != nil {
			logger.Warn("status transition rejected", zap.Error(err))
		}
		ctl.Apply(machine.Current())
		logger.Info("daemon status", zap.String("status", string(machine.Current())))
	}

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			collector.Start(ctx)
			if reaper != nil {
				reaper.Start(ctx)
			}

			// Start HTTP and control servers in background.
			wg.Add(2)
			go func() {
				defer wg.Done()
				if err := srv.Start(); err != nil {
					logger.Error("HTTP server error", zap.Error(err))
				}
			}()
			go func() {
				defer wg.Done()
				if err := ctl.Start(); err != nil {
					logger.Error("control server error", zap.Error(err))
				}
			}()

			if err := lk.SetHTTPAddr(srv.Addr()); err != nil {
				logger.Warn("could not record HTTP address in lock", zap.Error(err))
			}

			cfgPath := instance.ConfigPath(p.InstanceName)
			if _, err := os.Stat(cfgPath); errors.Is(err, fs.ErrNotExist) {
				logger.Debug("no config file, not watching", zap.String("path", cfgPath))
			} else {
				wg.Add(1)
				go func() {
					defer wg.Done()
					err := config.Watch(ctx, cfgPath, logger, func(cfg *config.Config) {
						lvl, err := config.ParseLevel(cfg.Log.Level)
						if err != nil {
							logger.Warn("ignoring log level", zap.Error(err))
							return
						}
						if lvl != level.Level() {
							level.SetLevel(lvl)
							logger.Info("log level changed", zap.Stringer("level", lvl))
						}
					})
					if err != nil {
						logger.Warn("config watcher stopped", zap.Error(err))
					}
				}()
			}

			transition(status.Serving)
			logger.Info("daemon started", zap.String("http_addr", srv.Addr()))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			transition(status.Draining)
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("HTTP shutdown incomplete", zap.Error(err))
				transition(status.Error)
			}
			transition(status.Stopped)
			ctl.Stop()
			cancel()
			wg.Wait()
			if reaper != nil {
				reaper.Stop()
			}
			collector.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
