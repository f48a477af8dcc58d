// regis - A resilient streaming chat client for the Regis backend.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cli"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/locale"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/logging"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	// Sync version info with CLI package
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse(os.Args[1:])
	os.Exit(run(cmd, args))
}

// run wires the components for cmd and returns the process exit code.
func run(cmd cli.Command, args cli.Args) int {
	ctx, stop := signal.NotifyContext(context.Background(), shutdownSignals(cmd)...)
	defer stop()

	cfg, cfgPath, err := loadConfig(cmd, args)
	if err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}

	logger, err := logging.New(logConfig(cmd, cfg, args))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v; logging to stderr\n", err)
		logger = logging.Must(logging.Config{Level: "warn"})
	}
	defer func() { _ = logger.Sync() }()

	if !cfg.UI.Color {
		cli.ForceColorsEnabled(false)
	}

	app := &cli.App{
		Config:     cfg,
		ConfigPath: cfgPath,
		Catalog:    locale.New(cfg.UI.Locale),
		Logger:     logger,
	}

	if cli.NeedsRuntime(cmd) {
		rt, err := newServices(ctx, cfg, args, logger)
		if err != nil {
			cli.DisplayError(os.Stderr, err, args.JSON)
			return cli.GetExitCode(err)
		}
		defer rt.Close()
		rt.attach(app)

		if cmd == cli.CmdChat {
			rt.background(ctx, app, cfgPath)
		} else if cmd == cli.CmdQueue && args.Subcommand == "drain" {
			rt.checkHealth(ctx)
		}
	}

	if err := app.Run(ctx, cmd, args); err != nil {
		cli.DisplayError(os.Stderr, err, args.JSON)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}

// shutdownSignals lists the signals that cancel the root context. Chat
// handles Ctrl-C itself to cancel a streaming answer.
func shutdownSignals(cmd cli.Command) []os.Signal {
	if cmd == cli.CmdChat {
		return []os.Signal{syscall.SIGTERM}
	}
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// loadConfig resolves the config file and loads it. The config command
// still runs on an invalid file so the user can repair it.
func loadConfig(cmd cli.Command, args cli.Args) (*config.Config, string, error) {
	path := args.ConfigPath
	if path == "" {
		p, err := config.Path()
		if err != nil {
			return nil, "", fmt.Errorf("failed to resolve config path: %w", err)
		}
		path = p
	}

	var (
		cfg *config.Config
		err error
	)
	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(path)
	} else {
		cfg, err = config.Load()
	}
	if err == nil {
		return cfg, path, nil
	}
	if cmd != cli.CmdConfig {
		return nil, path, err
	}

	fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	raw, readErr := config.ReadFile(path)
	if readErr != nil {
		return config.Default(), path, nil
	}
	return raw, path, nil
}

// logConfig builds the logger settings. Interactive chat writes logs to a
// file unless one is configured, keeping the terminal for the conversation.
func logConfig(cmd cli.Command, cfg *config.Config, args cli.Args) logging.Config {
	lc := logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Path:   cfg.Log.Path,
	}
	if args.Verbose {
		lc.Level = "debug"
	}
	if cmd == cli.CmdChat && lc.Path == "" {
		if dir, err := config.Dir(); err == nil {
			lc.Path = filepath.Join(dir, "regis.log")
		}
	}
	return lc
}

// logReload reports a config file change. Only the offline switch applies
// live; everything else takes effect on the next start.
func (rt *services) logReload(cfg *config.Config, err error) {
	if err != nil {
		rt.logger.Warn("config reload rejected", zap.Error(err))
		return
	}
	rt.logger.Info("config file changed; restart to apply",
		zap.String("base_url", cfg.API.BaseURL),
		zap.Bool("offline", cfg.API.Offline))
	if cfg.API.Offline && !rt.conn.Forced() {
		rt.conn.ForceOffline()
		rt.logger.Info("switched to offline mode")
	}
}
