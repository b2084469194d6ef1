// Package app holds the per-process runtime: configuration, logger, store
// and driver client, built once at startup and closed on exit.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"timedsend/internal/config"
	"timedsend/internal/driver"
	"timedsend/internal/logging"
	"timedsend/internal/resolver"
	"timedsend/internal/scheduler"
	"timedsend/internal/store"
)

type App struct {
	Config   config.Config
	Log      zerolog.Logger
	Backend  store.Backend
	Repo     *store.Repository
	Driver   *driver.Client
	Resolver *resolver.Resolver
}

// New builds the runtime for one command. The store is opened eagerly so a
// bad path fails before anything starts.
func New(cfg config.Config, service string) (*App, error) {
	log := logging.New(cfg.Log, service)
	return build(cfg, log)
}

func build(cfg config.Config, log zerolog.Logger) (*App, error) {
	backend, err := store.Open(store.Config{
		Driver:      cfg.Store.Driver,
		Path:        cfg.Store.Path,
		LockTimeout: cfg.Store.LockTimeout.Std(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	client := driver.New(driver.Config{
		URL:            cfg.Driver.URL,
		StatusTimeout:  cfg.Driver.StatusTimeout.Std(),
		GroupsTimeout:  cfg.Driver.GroupsTimeout.Std(),
		SendTimeout:    cfg.Driver.SendTimeout.Std(),
		SendRatePerSec: cfg.Driver.SendRatePerSec,
	})

	return &App{
		Config:   cfg,
		Log:      log,
		Backend:  backend,
		Repo:     store.NewRepository(backend),
		Driver:   client,
		Resolver: resolver.New(client, cfg.Driver.AddressSeparator, log),
	}, nil
}

// Dispatcher builds the dispatch engine over the runtime's store and driver.
func (a *App) Dispatcher() *scheduler.Service {
	return scheduler.NewService(a.Repo, a.Driver, a.Resolver, scheduler.Options{
		Interval:       a.Config.Dispatch.Interval.Std(),
		StrictContacts: a.Config.Dispatch.StrictContacts,
	}, a.Log)
}

func (a *App) Close() error {
	if a.Backend == nil {
		return nil
	}
	return a.Backend.Close()
}
