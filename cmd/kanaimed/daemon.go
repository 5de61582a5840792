package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"kanaime/internal/config"
	"kanaime/internal/dictionary"
	"kanaime/internal/health"
	"kanaime/internal/ime"
	"kanaime/internal/logging"
	"kanaime/internal/metrics"
	"kanaime/internal/segment"
	"kanaime/internal/watcher"
)

// daemon owns every long-lived component of kanaimed.
type daemon struct {
	cfg    *config.Config
	logger *logging.Logger

	metrics *metrics.Collector
	store   *dictionary.Store
	engine  *ime.Engine
	dbus    *ime.DBusService
	source  *watcher.Watcher
	health  *health.Checker
	servers []*http.Server

	committed atomic.Pointer[ime.DBusService]
	errs      chan error
	bg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*daemon, error) {
	d := &daemon{
		cfg:    cfg,
		logger: logger,
		errs:   make(chan error, 1),
		health: health.NewChecker(),
	}

	if cfg.Metrics.Enabled {
		d.metrics = metrics.NewCollector(cfg.Metrics.Namespace)
	}

	dictLogger := logger.WithComponent("dictionary").Logger
	backend := dictionary.OpenChain(ctx, dictionary.ChainConfig{
		SQLitePath:  cfg.Dictionary.SQLitePath,
		SourcePath:  cfg.Dictionary.SourcePath,
		JournalPath: cfg.Dictionary.JournalPath,
		MaxPerKey:   cfg.Dictionary.MaxPerKey,
		Logger:      dictLogger,
	})
	store, err := dictionary.NewStore(backend, dictionary.StoreOptions{
		Limit:           cfg.Dictionary.QueryLimit,
		CacheSize:       cfg.Dictionary.CacheSize,
		BreakerFailures: uint32(cfg.Dictionary.BreakerFailures),
		BreakerTimeout:  cfg.Dictionary.BreakerTimeout(),
		Logger:          dictLogger,
		Metrics:         d.metrics,
	})
	if err != nil {
		backend.Close()
		return nil, fmt.Errorf("create candidate store: %w", err)
	}
	d.store = store

	d.engine = ime.NewEngine(ime.Options{
		Source: store,
		Segmenter: segment.New(store, segment.Options{
			MaxLength:   cfg.Conversion.MaxSegmentLength,
			Parallelism: cfg.Conversion.SegmentParallelism,
			Logger:      logger.WithComponent("segment").Logger,
		}),
		Workers:  cfg.Conversion.Workers,
		Logger:   logger.Logger,
		Metrics:  d.metrics,
		OnCommit: d.onCommit,
	})

	d.health.RegisterFunc("dictionary", true, d.checkDictionary)
	d.health.RegisterFunc("engine", true, d.checkEngine)
	return d, nil
}

// start brings up the optional surfaces: D-Bus, the HTTP endpoints and the
// dictionary source watcher.
func (d *daemon) start(ctx context.Context) error {
	if d.cfg.DBus.Enabled {
		svc := ime.NewDBusService(d.engine, d.logger.Logger)
		if err := svc.Start(ctx, nil); err != nil {
			return fmt.Errorf("start dbus service: %w", err)
		}
		d.dbus = svc
		d.committed.Store(svc)
		d.health.RegisterFunc("dbus", false, health.FuncCheck(ime.DBusName, svc.Ping))
	} else {
		d.logger.Warn("dbus surface disabled, the engine has no renderer")
	}

	d.serveHTTP(d.routes())

	if d.cfg.Watch.Enabled && d.cfg.Dictionary.SourcePath != "" {
		if err := d.watchSource(ctx); err != nil {
			d.logger.Warn("dictionary source watch disabled", "path", d.cfg.Dictionary.SourcePath, "error", err)
		}
	}

	d.health.SetReady(true)
	d.logger.Info("daemon ready", "checks", d.health.Names())
	return nil
}

func (d *daemon) checkDictionary(ctx context.Context) health.CheckResult {
	stats, err := d.store.Stats(ctx)
	if err != nil {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "dictionary stats failed", Error: err.Error()}
	}
	result := health.CheckResult{
		Status:  health.StatusHealthy,
		Message: "dictionary ok",
		Details: map[string]any{
			"backend":  stats.Backend,
			"entries":  stats.Entries,
			"readings": stats.Readings,
			"breaker":  d.store.BreakerState(),
		},
	}
	switch {
	case d.store.BreakerState() != "closed":
		result.Status = health.StatusDegraded
		result.Message = "dictionary circuit is not closed, serving fallback candidates"
	case stats.Backend != "sqlite":
		result.Status = health.StatusDegraded
		result.Message = "running on the " + stats.Backend + " fallback backend"
	}
	return result
}

func (d *daemon) checkEngine(context.Context) health.CheckResult {
	if d.engine.Closed() {
		return health.CheckResult{Status: health.StatusUnhealthy, Message: "engine closed"}
	}
	snap := d.engine.Snapshot()
	return health.CheckResult{
		Status:  health.StatusHealthy,
		Message: "engine running",
		Details: map[string]any{
			"mode":       snap.Mode.String(),
			"generation": snap.Generation,
		},
	}
}

func (d *daemon) onCommit(text string) {
	if svc := d.committed.Load(); svc != nil {
		svc.EmitCommitted(text)
	}
}

// routes maps each listen address to its handlers. Metrics and health
// share a mux when they are configured on the same address.
func (d *daemon) routes() map[string]*http.ServeMux {
	muxes := make(map[string]*http.ServeMux)
	mux := func(addr string) *http.ServeMux {
		if muxes[addr] == nil {
			muxes[addr] = http.NewServeMux()
		}
		return muxes[addr]
	}
	if d.metrics != nil {
		mux(d.cfg.Metrics.Listen).Handle("/metrics", d.metrics.Handler())
	}
	if d.cfg.Health.Enabled {
		d.health.Mount(mux(d.cfg.Health.Listen))
	}
	return muxes
}

// serveHTTP starts one server per address.
func (d *daemon) serveHTTP(routes map[string]*http.ServeMux) {
	for addr, mux := range routes {
		srv := &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		d.servers = append(d.servers, srv)

		d.bg.Add(1)
		go func() {
			defer d.bg.Done()
			d.logger.Info("http endpoint listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.fail(fmt.Errorf("http server %s: %w", addr, err))
			}
		}()
	}
}

func (d *daemon) watchSource(ctx context.Context) error {
	w, err := watcher.New([]string{d.cfg.Dictionary.SourcePath}, d.cfg.Watch.Debounce())
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return err
	}
	d.source = w
	d.health.RegisterFunc("source", false, func(context.Context) health.CheckResult {
		return health.CheckResult{
			Status:  health.StatusHealthy,
			Message: "watching dictionary source",
			Details: map[string]any{
				"paths":   w.WatchedPaths(),
				"pending": w.PendingFiles(),
			},
		}
	})

	d.bg.Add(2)
	go func() {
		defer d.bg.Done()
		for ev := range w.Events() {
			d.reimport(ctx, ev)
		}
	}()
	go func() {
		defer d.bg.Done()
		for err := range w.Errors() {
			d.logger.Warn("dictionary source watcher", "error", err)
		}
	}()
	return nil
}

func (d *daemon) reimport(ctx context.Context, ev watcher.Event) {
	res, err := d.store.ImportSource(ctx, ev.Path)
	if err != nil {
		d.logger.Warn("dictionary source reload failed", "path", ev.Path, "error", err)
		return
	}
	if res.Unchanged {
		d.logger.Debug("dictionary source unchanged", "path", ev.Path)
		return
	}
	d.logger.Info("dictionary source reloaded",
		"path", ev.Path,
		"entries", res.Imported,
		"skipped", res.Parse.Skipped)
}

// applyConfig applies the settings that can change without a restart.
func (d *daemon) applyConfig(prev, next *config.Config) {
	if prev.Logging.Level != next.Logging.Level {
		level, err := logging.ParseLevel(next.Logging.Level)
		if err == nil {
			d.logger.SetLevel(level)
			d.logger.Info("log level changed", "level", next.Logging.Level)
		}
	}
	if prev.Dictionary != next.Dictionary || prev.Conversion != next.Conversion ||
		prev.DBus != next.DBus || prev.Metrics != next.Metrics || prev.Health != next.Health || prev.Watch != next.Watch {
		d.logger.Warn("configuration changed, restart kanaimed to apply settings other than the log level")
	}
}

func (d *daemon) fail(err error) {
	select {
	case d.errs <- err:
	default:
	}
}

// close stops components in reverse start order.
func (d *daemon) close() error {
	d.closeOnce.Do(func() {
		d.health.SetReady(false)
		var errs []error
		if d.dbus != nil {
			d.committed.Store(nil)
			if err := d.dbus.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
		for _, srv := range d.servers {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("stop http server %s: %w", srv.Addr, err))
			}
			cancel()
		}
		if d.source != nil {
			if err := d.source.Stop(); err != nil {
				errs = append(errs, fmt.Errorf("stop source watcher: %w", err))
			}
		}
		d.bg.Wait()
		if err := d.engine.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dictionary: %w", err))
		}
		d.closeErr = errors.Join(errs...)
	})
	return d.closeErr
}
