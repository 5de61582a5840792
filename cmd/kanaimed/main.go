// kanaimed is the kanaime conversion daemon.
//
// It opens the dictionary chain, runs the conversion engine and exports it
// on the session bus for the renderer:
//
//	kanaimed                     Run with the default configuration
//	kanaimed -config path.toml   Run with an explicit configuration file
//	kanaimed -init               Write a default configuration and exit
//	kanaimed -env                List environment overrides and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"kanaime/internal/config"
	"kanaime/internal/logging"
)

var (
	configPath = flag.String("config", "", "path to config file")
	initConfig = flag.Bool("init", false, "write a default config file and exit")
	showEnv    = flag.Bool("env", false, "list environment overrides and exit")
	logLevel   = flag.String("log-level", "", "override the configured log level")
)

func main() {
	flag.Parse()

	if *showEnv {
		desc, err := config.EnvDescription()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(desc)
		return
	}

	if *initConfig {
		path := *configPath
		if path == "" {
			path = config.ConfigPath()
		}
		_, created, err := config.LoadOrCreate(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if created {
			fmt.Printf("Wrote default configuration to %s\n", path)
		} else {
			fmt.Printf("Configuration already exists at %s\n", path)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "kanaimed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	loader := config.NewLoader(*configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	defer loader.Close()

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logCfg, err := logging.FromSettings(cfg.Logging)
	if err != nil {
		return err
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if err := d.start(ctx); err != nil {
		d.close()
		return err
	}

	loader.OnChange(d.applyConfig)
	if err := loader.Watch(); err != nil {
		logger.Warn("config hot reload disabled", "path", loader.Path(), "error", err)
	}

	logger.Info("kanaimed started", "config", loader.Path(), "backend", d.store.Backend().Name())

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			return d.close()
		case err := <-loader.Errors():
			logger.Warn("config reload rejected", "error", err)
		case err := <-d.errs:
			if errors.Is(err, context.Canceled) {
				continue
			}
			logger.Error("daemon component failed", "error", err)
			d.close()
			return err
		}
	}
}
