// Package app wires the components together: config, logging, chat adapter,
// audit storage, notification queue, engine, router, and admin API.
package app

import (
	"context"
	"sync"
	"time"

	"gatebot/internal/adapters/telegram"
	"gatebot/internal/agent"
	"gatebot/internal/api"
	"gatebot/internal/chanlock"
	"gatebot/internal/config"
	"gatebot/internal/engine"
	"gatebot/internal/eventbus"
	"gatebot/internal/notify"
	"gatebot/internal/router"
	"gatebot/internal/storage"
	"gatebot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store   storage.Store
	adapter *telegram.Adapter
	queue   *notify.Service
	eng     *engine.Engine
	rtr     *router.Router
	apiSrv  *api.Server

	stopOnce sync.Once
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.FilePath != "",
			Path:    cfg.Logging.FilePath,
		},
	})
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	var store storage.Store
	if cfg.Storage != nil {
		busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
		if err != nil {
			return nil, err
		}
		st, err := storage.Open(storage.Config{
			Driver:      cfg.Storage.Driver,
			Path:        cfg.Storage.Path,
			BusyTimeout: busyTimeout,
			URL:         cfg.Storage.URL,
			Subject:     cfg.Storage.Subject,
		}, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		if st != nil {
			store = st
			log.Info("audit storage enabled", logx.String("driver", cfg.Storage.Driver))
		}
	}

	queue := notify.New(mapNotifierConfig(cfg), ad, log.With(logx.String("comp", "notify")))

	runtime, err := agent.NewHTTPRuntime(cfg.Agent.URL, log.With(logx.String("comp", "agent")))
	if err != nil {
		return nil, err
	}

	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}
	eng := engine.New(engCfg, engine.Deps{
		Log:    log.With(logx.String("comp", "engine")),
		Locks:  chanlock.New(),
		Agent:  runtime,
		Notifier: &router.Notifier{
			Adapter: ad,
			Queue:   queue,
			Log:     log.With(logx.String("comp", "notify")),
		},
		Store: store,
		Bus:   bus,
	})

	rtr := router.New(router.Config{}, ad, eng, log.With(logx.String("comp", "router")))

	apiCfg := api.Config{}
	if cfg.API != nil {
		apiCfg = api.Config{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr}
	}
	apiSrv := api.NewServer(apiCfg, eng, log.With(logx.String("comp", "api")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		adapter: ad,
		queue:   queue,
		eng:     eng,
		rtr:     rtr,
		apiSrv:  apiSrv,
	}, nil
}

func (a *App) Start(ctx context.Context) error {
	bgCtx, cancel := context.WithCancel(context.Background())
	a.bgCancel = cancel

	a.queue.Start(bgCtx)
	if err := a.rtr.Start(bgCtx); err != nil {
		return err
	}
	if err := a.apiSrv.Start(bgCtx); err != nil {
		return err
	}

	a.bgWG.Add(2)
	go func() {
		defer a.bgWG.Done()
		_ = a.cfgm.Watch(bgCtx)
	}()
	go func() {
		defer a.bgWG.Done()
		a.reloadLoop(bgCtx)
	}()

	a.log.Info("started")
	return nil
}

// reloadLoop applies hot-reloadable config sections as the file changes.
// Telegram token, storage driver, and timezone changes require a restart.
func (a *App) reloadLoop(ctx context.Context) {
	updates := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(updates)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-updates:
			if !ok {
				return
			}
			if cfg == nil {
				continue
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File: logx.FileConfig{
					Enabled: cfg.Logging.FilePath != "",
					Path:    cfg.Logging.FilePath,
				},
			})
			a.queue.Apply(mapNotifierConfig(cfg))
			if engCfg, err := mapEngineConfig(cfg); err == nil {
				a.eng.Apply(engCfg)
			} else {
				a.log.Warn("engine config rejected on reload", logx.Err(err))
			}
			a.log.Info("config applied")
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.stopOnce.Do(func() {
		if err := a.apiSrv.Stop(ctx); err != nil {
			a.log.Warn("api stop failed", logx.Err(err))
		}
		if err := a.rtr.Stop(ctx); err != nil {
			a.log.Warn("router stop failed", logx.Err(err))
		}
		a.eng.Shutdown(ctx)
		a.queue.Stop(ctx)
		if a.bgCancel != nil {
			a.bgCancel()
		}
		a.bgWG.Wait()
		if a.store != nil {
			if err := a.store.Close(); err != nil {
				a.log.Warn("storage close failed", logx.Err(err))
			}
		}
		a.log.Info("stopped")
		a.logs.Close()
	})
	return nil
}

func mapNotifierConfig(cfg *config.Config) notify.Config {
	if cfg.Notifier == nil {
		return notify.Config{}
	}
	return notify.Config{
		Workers:    cfg.Notifier.Workers,
		QueueSize:  cfg.Notifier.QueueSize,
		RatePerSec: cfg.Notifier.RatePerSec,
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	approval, cronCheck, minInterval, minDelay, err := cfg.Engine.EngineDurations()
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxPerChannel:   cfg.Engine.MaxPerChannel,
		ApprovalTimeout: approval,
		CronCheckPeriod: cronCheck,
		MinInterval:     minInterval,
		MinDelay:        minDelay,
		Timezone:        cfg.Engine.Timezone,
	}, nil
}
