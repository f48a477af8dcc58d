// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cli"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/cloud"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/offline"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/session"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/storage"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/telemetry"
)

// PassphraseEnv, when set, derives the backup key from a passphrase instead
// of the key file.
const PassphraseEnv = "REGIS_BACKUP_PASSPHRASE"

// telemetryRetention bounds how long per-run summaries are kept.
const telemetryRetention = 90 * 24 * time.Hour

// healthCheckTimeout bounds the one-shot health check before a queue drain.
const healthCheckTimeout = 5 * time.Second

// services holds the long-lived components shared by the commands.
type services struct {
	logger *zap.Logger

	client    *cloud.Client
	conn      *offline.Connectivity
	monitor   *offline.Monitor
	store     offline.Store
	queue     *offline.Queue
	backups   *storage.BackupStore
	session   *session.Controller
	recorder  *telemetry.Recorder
	telemetry *telemetry.Storage

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// newServices builds the client, offline queue, backups and session from
// cfg. The caller must Close the result.
func newServices(ctx context.Context, cfg *config.Config, args cli.Args, logger *zap.Logger) (*services, error) {
	s := &services{logger: logger}
	ctx, s.cancel = context.WithCancel(ctx)

	collectors := telemetry.NewCollectors()
	s.recorder = telemetry.NewRecorder(collectors)
	if cfg.Metrics.Enabled {
		s.goRun(func() {
			if err := collectors.Serve(ctx, cfg.Metrics.Addr, logger); err != nil {
				logger.Warn("metrics endpoint stopped", zap.Error(err))
			}
		})
	}
	if dir, err := cfg.MetricsDir(); err != nil {
		logger.Warn("telemetry history disabled", zap.Error(err))
	} else if ts, err := telemetry.NewStorage(dir); err != nil {
		logger.Warn("telemetry history disabled", zap.Error(err))
	} else {
		s.telemetry = ts
	}

	userAgent := cfg.API.UserAgent
	if userAgent == "" {
		userAgent = "regis/" + cli.Version
	}
	client, err := cloud.NewClient(cloud.Config{
		BaseURL:   cfg.API.BaseURL,
		Timeout:   cfg.Timeout(),
		Policy:    cfg.RetryPolicy(),
		UserAgent: userAgent,
		Logger:    logger.Named("cloud"),
		Metrics:   s.recorder,
	})
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	s.client = client

	s.conn = offline.NewConnectivity(true)
	if args.Offline || cfg.API.Offline {
		s.conn.ForceOffline()
	}
	s.monitor = offline.NewMonitor(client, s.conn, cfg.HealthInterval(), logger.Named("connectivity"))

	queuePath, err := cfg.QueuePath()
	if err != nil {
		s.Close()
		return nil, err
	}
	store, err := offline.OpenSQLStore(queuePath)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.store = store
	s.queue, err = offline.New(ctx, store, offline.Options{
		MaxRetries:   cfg.Queue.MaxRetries,
		Interval:     cfg.DrainInterval(),
		Connectivity: s.conn,
		Logger:       logger.Named("queue"),
		Metrics:      s.recorder,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	keyring, err := openKeyring(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	backupDir, err := cfg.BackupDir()
	if err != nil {
		s.Close()
		return nil, err
	}
	s.backups, err = storage.NewBackupStore(backupDir, keyring, storage.Options{
		MaxBackups: cfg.Backup.MaxBackups,
		Logger:     logger.Named("backup"),
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	return s, nil
}

// openKeyring returns nil when backups are stored unencrypted.
func openKeyring(cfg *config.Config) (*storage.Keyring, error) {
	if !cfg.Backup.Encrypt {
		return nil, nil
	}
	keyPath, err := cfg.BackupKeyPath()
	if err != nil {
		return nil, err
	}
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return storage.NewPassphraseKeyring(pass, keyPath+".salt")
	}
	return storage.LoadOrCreateKeyring(keyPath)
}

// attach hands the services to app and builds its session controller.
func (s *services) attach(app *cli.App) {
	s.session = session.NewController(s.client, session.Config{
		HistoryLimit: app.Config.Session.HistoryLimit,
		Catalog:      app.Catalog,
		Backups:      s.backups,
		Queue:        s.queue,
		Connectivity: s.conn,
		Logger:       s.logger.Named("session"),
	})

	app.Client = s.client
	app.Queue = s.queue
	app.Connectivity = s.conn
	app.Backups = s.backups
	app.Session = s.session
	app.Recorder = s.recorder
	app.Telemetry = s.telemetry
}

// background starts the chat-time loops: health polling, draining the
// queue on reconnect and watching the config file.
func (s *services) background(ctx context.Context, app *cli.App, cfgPath string) {
	if !s.conn.Forced() {
		s.goRun(func() { s.monitor.Run(ctx) })
	}
	s.goRun(func() { s.queue.Watch(ctx, s.conn, app.ReplayToSession) })
	s.goRun(func() {
		err := config.Watch(ctx, cfgPath, config.DefaultWatchDebounce, s.logger.Named("config"), s.logReload)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Debug("config watch unavailable", zap.Error(err))
		}
	})
}

// checkHealth runs one health check so a drain sees the real connection state.
func (s *services) checkHealth(ctx context.Context) {
	if s.conn.Forced() {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	s.monitor.Check(ctx)
}

func (s *services) goRun(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Close stops background loops, records this run's telemetry and closes
// the queue store.
func (s *services) Close() {
	s.cancel()
	s.wg.Wait()

	if s.telemetry != nil && s.recorder != nil {
		summary := s.recorder.Summary()
		if summary.TotalRequests > 0 || len(summary.QueueEvents) > 0 {
			summary.EndTime = time.Now()
			if err := s.telemetry.Save(summary); err != nil {
				s.logger.Warn("failed to save telemetry", zap.Error(err))
			}
		}
		if n, err := s.telemetry.Prune(time.Now().Add(-telemetryRetention)); err != nil {
			s.logger.Debug("telemetry prune failed", zap.Error(err))
		} else if n > 0 {
			s.logger.Debug("pruned telemetry", zap.Int("files", n))
		}
	}

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close queue store", zap.Error(err))
		}
	}
}
