// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/util"
)

// MaxBackups is the default number of backups kept on disk.
const MaxBackups = 10

const (
	backupExt       = ".bak"
	envelopeVersion = 1
	algorithmNone   = "none"
)

var (
	// ErrNoBackup is returned when no readable backup exists.
	ErrNoBackup = errors.New("no backup found")

	// ErrInvalidID is returned for ids that are not backup file names.
	ErrInvalidID = errors.New("invalid backup id")
)

// Backup is a restored conversation snapshot.
type Backup struct {
	ID        string          `json:"id"`
	CreatedAt time.Time       `json:"created_at"`
	Messages  []model.Message `json:"messages"`
}

// BackupInfo describes a backup without decrypting it.
type BackupInfo struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
}

type payload struct {
	Messages  []model.Message `json:"messages"`
	CreatedAt time.Time       `json:"created_at"`
}

// envelope is the on-disk format. Nonce and Data are base64 in JSON.
type envelope struct {
	Version   int    `json:"version"`
	Algorithm string `json:"algorithm"`
	Nonce     []byte `json:"nonce,omitempty"`
	Data      []byte `json:"data"`
}

// Options configures a BackupStore.
type Options struct {
	// MaxBackups limits stored backups (0 = MaxBackups).
	MaxBackups int
	Logger     *zap.Logger
}

// BackupStore keeps the newest backups of a conversation in one directory.
// A nil Keyring stores payloads unencrypted.
type BackupStore struct {
	dir     string
	keyring *Keyring
	max     int
	logger  *zap.Logger

	mu     sync.Mutex
	lastID int64
}

// NewBackupStore creates the backup directory if needed.
func NewBackupStore(dir string, keyring *Keyring, opts Options) (*BackupStore, error) {
	if err := util.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}
	s := &BackupStore{
		dir:     dir,
		keyring: keyring,
		max:     opts.MaxBackups,
		logger:  opts.Logger,
	}
	if s.max <= 0 {
		s.max = MaxBackups
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// Dir returns the backup directory.
func (s *BackupStore) Dir() string {
	return s.dir
}

// Encrypted reports whether backups are sealed.
func (s *BackupStore) Encrypted() bool {
	return s.keyring != nil
}

// Save writes messages as a new backup and prunes backups beyond the limit.
func (s *BackupStore) Save(ctx context.Context, messages []model.Message) (BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return BackupInfo{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	id := s.nextIDLocked(now)
	plaintext, err := json.Marshal(payload{Messages: messages, CreatedAt: now.UTC()})
	if err != nil {
		return BackupInfo{}, fmt.Errorf("failed to encode backup: %w", err)
	}

	env := envelope{Version: envelopeVersion, Algorithm: algorithmNone, Data: plaintext}
	if s.keyring != nil {
		nonce, sealed, err := s.keyring.Seal(plaintext, []byte(id))
		if err != nil {
			return BackupInfo{}, err
		}
		env = envelope{Version: envelopeVersion, Algorithm: Algorithm, Nonce: nonce, Data: sealed}
	}

	data, err := json.Marshal(env)
	if err != nil {
		return BackupInfo{}, fmt.Errorf("failed to encode backup envelope: %w", err)
	}
	if err := util.WriteFileAtomic(s.path(id), data, 0600); err != nil {
		return BackupInfo{}, fmt.Errorf("failed to write backup: %w", err)
	}

	s.logger.Debug("backup saved", zap.String("id", id), zap.Int("messages", len(messages)))
	s.pruneLocked()

	return BackupInfo{ID: id, CreatedAt: now, Size: int64(len(data))}, nil
}

// LoadLatest returns the newest backup that can be read. Backups that fail
// to decrypt or decode are skipped with a warning. ErrNoBackup is returned
// when none is usable.
func (s *BackupStore) LoadLatest(ctx context.Context) (*Backup, error) {
	infos, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, info := range infos {
		b, err := s.Load(ctx, info.ID)
		if err == nil {
			return b, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("skipping unreadable backup", zap.String("id", info.ID), zap.Error(err))
	}
	return nil, ErrNoBackup
}

// Load reads one backup by id.
func (s *BackupStore) Load(ctx context.Context, id string) (*Backup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if _, ok := parseID(id); !ok {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoBackup
		}
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("corrupt backup envelope: %w", err)
	}

	plaintext := env.Data
	switch env.Algorithm {
	case algorithmNone:
	case Algorithm:
		if s.keyring == nil {
			return nil, fmt.Errorf("%w: backup is encrypted but no key is configured", ErrDecrypt)
		}
		plaintext, err = s.keyring.Open(env.Nonce, env.Data, []byte(id))
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported backup algorithm %q", env.Algorithm)
	}

	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, fmt.Errorf("corrupt backup payload: %w", err)
	}
	for i, m := range p.Messages {
		if !m.Role.Valid() {
			return nil, fmt.Errorf("corrupt backup payload: message %d has unknown role %q", i, m.Role)
		}
	}
	return &Backup{ID: id, CreatedAt: p.CreatedAt, Messages: p.Messages}, nil
}

// List returns all backups, newest first.
func (s *BackupStore) List(ctx context.Context) ([]BackupInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []BackupInfo{}, nil
		}
		return nil, err
	}

	infos := make([]BackupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), backupExt) {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), backupExt)
		ns, ok := parseID(id)
		if !ok {
			continue
		}
		info := BackupInfo{ID: id, CreatedAt: time.Unix(0, ns)}
		if fi, err := entry.Info(); err == nil {
			info.Size = fi.Size()
		}
		infos = append(infos, info)
	}

	// Ids are zero-padded so lexical order is chronological.
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID > infos[j].ID })
	return infos, nil
}

// Count returns the number of stored backups.
func (s *BackupStore) Count(ctx context.Context) (int, error) {
	infos, err := s.List(ctx)
	return len(infos), err
}

// Clear removes every backup.
func (s *BackupStore) Clear(ctx context.Context) error {
	infos, err := s.List(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, info := range infos {
		if err := os.Remove(s.path(info.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		s.logger.Info("cleared backups", zap.Int("count", len(infos)))
	}
	return errors.Join(errs...)
}

func (s *BackupStore) pruneLocked() {
	infos, err := s.List(context.Background())
	if err != nil || len(infos) <= s.max {
		return
	}
	for _, info := range infos[s.max:] {
		if err := os.Remove(s.path(info.ID)); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("failed to prune backup", zap.String("id", info.ID), zap.Error(err))
		}
	}
}

// nextIDLocked returns a strictly increasing id derived from the clock.
func (s *BackupStore) nextIDLocked(now time.Time) string {
	ns := now.UnixNano()
	if ns <= s.lastID {
		ns = s.lastID + 1
	}
	s.lastID = ns
	return fmt.Sprintf("%020d", ns)
}

func (s *BackupStore) path(id string) string {
	return filepath.Join(s.dir, id+backupExt)
}

func parseID(id string) (int64, bool) {
	if len(id) != 20 {
		return 0, false
	}
	ns, err := strconv.ParseInt(id, 10, 64)
	return ns, err == nil && ns > 0
}

// FormatBackupList renders backups as a table for the terminal.
func FormatBackupList(infos []BackupInfo) string {
	if len(infos) == 0 {
		return "No backups found."
	}

	var sb strings.Builder
	sb.WriteString(util.PadRight("#", 4) + util.PadRight("Created", 21) + util.PadRight("Size", 10) + "ID\n")
	sb.WriteString(strings.Repeat("-", 56) + "\n")
	for i, info := range infos {
		sb.WriteString(util.PadRight(strconv.Itoa(i+1), 4))
		sb.WriteString(util.PadRight(info.CreatedAt.Local().Format("2006-01-02 15:04:05"), 21))
		sb.WriteString(util.PadRight(formatSize(info.Size), 10))
		sb.WriteString(info.ID)
		sb.WriteString("\n")
	}
	return sb.String()
}

func formatSize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
