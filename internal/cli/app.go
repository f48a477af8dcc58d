// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Command dispatch over the wired regis components.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/locale"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/session"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/telemetry"
)

// Client is the subset of *cloud.Client the commands use.
type Client interface {
	Execute(ctx context.Context, prompt, model string) (*cloud.Result, error)
	ExecuteStream(ctx context.Context, prompt, model string, onChunk func(string)) (*cloud.Result, error)
	CheckHealth(ctx context.Context) bool
	BaseURL() string
}

// App holds everything a command may need. Fields a command does not use
// may be nil; NeedsRuntime reports which commands need the full set.
type App struct {
	Config     *config.Config
	ConfigPath string

	Client       Client
	Queue        *offline.Queue
	Connectivity *offline.Connectivity
	Backups      *storage.BackupStore
	Session      *session.Controller
	Catalog      *locale.Catalog
	Recorder     *telemetry.Recorder
	Telemetry    *telemetry.Storage
	Logger       *zap.Logger

	// LineReader drives chat input. Nil uses a liner prompt on the terminal.
	LineReader LineReader

	Out io.Writer
	Err io.Writer
}

// NeedsRuntime reports whether cmd needs the client, queue and backups.
func NeedsRuntime(cmd Command) bool {
	switch cmd {
	case CmdVersion, CmdHelp, CmdConfig:
		return false
	default:
		return true
	}
}

// Run executes cmd.
func (a *App) Run(ctx context.Context, cmd Command, args Args) error {
	a.defaults()

	switch cmd {
	case CmdAsk:
		return a.runAsk(ctx, args)
	case CmdChat:
		return a.runChat(ctx, args)
	case CmdQueue:
		return a.runQueue(ctx, args)
	case CmdBackup:
		return a.runBackup(ctx, args)
	case CmdHealth:
		return a.runHealth(ctx, args)
	case CmdConfig:
		return a.runConfig(args)
	case CmdStats:
		return a.runStats(args)
	case CmdVersion:
		return a.runVersion(args)
	case CmdHelp:
		PrintUsage(a.Out)
		return nil
	default:
		return NewUsageError(cmd.String(), "unknown command", "regis help")
	}
}

func (a *App) defaults() {
	if a.Out == nil {
		a.Out = os.Stdout
	}
	if a.Err == nil {
		a.Err = os.Stderr
	}
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	if a.Config == nil {
		a.Config = config.Default()
	}
}

// model returns the requested model or the configured default.
func (a *App) model(args Args) string {
	if args.Model != "" {
		return args.Model
	}
	return a.Config.DefaultModel
}

func (a *App) online() bool {
	return a.Connectivity == nil || a.Connectivity.Online()
}

func (a *App) runVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print(a.Out)
	}
	PrintVersion(a.Out)
	return nil
}

func (a *App) requireRuntime(name string) error {
	if a.Client == nil || a.Queue == nil {
		return fmt.Errorf("%s: client not initialized", name)
	}
	return nil
}
