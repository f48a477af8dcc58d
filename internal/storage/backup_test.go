// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/model"
)

func newStore(t *testing.T, opts Options) (*BackupStore, string) {
	t.Helper()
	dir := t.TempDir()
	keyring, err := LoadOrCreateKeyring(filepath.Join(dir, "backup.key"))
	require.NoError(t, err)
	store, err := NewBackupStore(filepath.Join(dir, "backups"), keyring, opts)
	require.NoError(t, err)
	return store, dir
}

func conversation(texts ...string) []model.Message {
	msgs := make([]model.Message, 0, len(texts))
	for i, text := range texts {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.NewMessage(role, text))
	}
	return msgs
}

func TestKeyring_CreatesPrivateKeyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.key")
	_, err := LoadOrCreateKeyring(path)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, int64(KeySize), info.Size())
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	}

	first, err := os.ReadFile(path)
	require.NoError(t, err)
	_, err = LoadOrCreateKeyring(path)
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing key must be reused")
}

func TestKeyring_RejectsShortKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "backup.key")
	require.NoError(t, os.WriteFile(path, []byte("short"), 0600))
	_, err := LoadOrCreateKeyring(path)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestKeyring_SealOpen(t *testing.T) {
	k, err := LoadOrCreateKeyring(filepath.Join(t.TempDir(), "k"))
	require.NoError(t, err)

	nonce, ct, err := k.Seal([]byte("secret"), []byte("id-1"))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(ct, []byte("secret")))

	pt, err := k.Open(nonce, ct, []byte("id-1"))
	require.NoError(t, err)
	assert.Equal(t, "secret", string(pt))

	_, err = k.Open(nonce, ct, []byte("id-2"))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestPassphraseKeyring_SameSaltSameKey(t *testing.T) {
	salt := filepath.Join(t.TempDir(), "backup.salt")
	a, err := NewPassphraseKeyring("correct horse", salt)
	require.NoError(t, err)
	b, err := NewPassphraseKeyring("correct horse", salt)
	require.NoError(t, err)

	nonce, ct, err := a.Seal([]byte("payload"), nil)
	require.NoError(t, err)
	pt, err := b.Open(nonce, ct, nil)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(pt))

	_, err = NewPassphraseKeyring("", salt)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestBackupStore_SaveLoadLatest(t *testing.T) {
	store, _ := newStore(t, Options{})
	ctx := context.Background()

	_, err := store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)

	_, err = store.Save(ctx, conversation("old question", "old answer"))
	require.NoError(t, err)
	msgs := conversation("Cześć", "Dzień dobry")
	msgs[1].Sources = []model.Source{{Title: "Docs", URL: "https://example.com"}}
	info, err := store.Save(ctx, msgs)
	require.NoError(t, err)

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, info.ID, latest.ID)
	require.Len(t, latest.Messages, 2)
	assert.Equal(t, "Cześć", latest.Messages[0].Content)
	assert.Equal(t, model.RoleAssistant, latest.Messages[1].Role)
	assert.Equal(t, msgs[1].Sources, latest.Messages[1].Sources)
	assert.True(t, msgs[0].Timestamp.Equal(latest.Messages[0].Timestamp))

	raw, err := os.ReadFile(store.path(info.ID))
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(raw), "Dzień"), "backup must not hold plaintext")
}

func TestBackupStore_KeepsNewest(t *testing.T) {
	store, _ := newStore(t, Options{MaxBackups: 3})
	ctx := context.Background()

	var ids []string
	for i := range 5 {
		info, err := store.Save(ctx, conversation(strings.Repeat("x", i+1)))
		require.NoError(t, err)
		ids = append(ids, info.ID)
	}

	infos, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 3)
	assert.Equal(t, []string{ids[4], ids[3], ids[2]}, []string{infos[0].ID, infos[1].ID, infos[2].ID})

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBackupStore_SkipsUndecryptable(t *testing.T) {
	store, dir := newStore(t, Options{})
	ctx := context.Background()

	good, err := store.Save(ctx, conversation("keep me"))
	require.NoError(t, err)

	// A backup sealed under a different key is newer but unreadable.
	otherKey, err := LoadOrCreateKeyring(filepath.Join(dir, "other.key"))
	require.NoError(t, err)
	other, err := NewBackupStore(store.Dir(), otherKey, Options{})
	require.NoError(t, err)
	other.lastID = store.lastID
	_, err = other.Save(ctx, conversation("foreign"))
	require.NoError(t, err)

	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, good.ID, latest.ID)
	assert.Equal(t, "keep me", latest.Messages[0].Content)
}

func TestBackupStore_AllUnreadable(t *testing.T) {
	store, _ := newStore(t, Options{})
	ctx := context.Background()
	info, err := store.Save(ctx, conversation("x"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.path(info.ID), []byte("{not json"), 0600))

	_, err = store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestBackupStore_RejectsUnknownRole(t *testing.T) {
	store, err := NewBackupStore(t.TempDir(), nil, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	msgs := conversation("q", "a")
	msgs[1].Role = model.Role("system")
	info, err := store.Save(ctx, msgs)
	require.NoError(t, err)

	_, err = store.Load(ctx, info.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown role "system"`)

	_, err = store.LoadLatest(ctx)
	assert.ErrorIs(t, err, ErrNoBackup)
}

func TestBackupStore_Unencrypted(t *testing.T) {
	store, err := NewBackupStore(t.TempDir(), nil, Options{})
	require.NoError(t, err)
	assert.False(t, store.Encrypted())

	ctx := context.Background()
	_, err = store.Save(ctx, conversation("plain"))
	require.NoError(t, err)
	latest, err := store.LoadLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "plain", latest.Messages[0].Content)
}

func TestBackupStore_Clear(t *testing.T) {
	store, _ := newStore(t, Options{})
	ctx := context.Background()
	for range 3 {
		_, err := store.Save(ctx, conversation("m"))
		require.NoError(t, err)
	}
	require.NoError(t, store.Clear(ctx))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBackupStore_LoadRejectsBadID(t *testing.T) {
	store, _ := newStore(t, Options{})
	_, err := store.Load(context.Background(), "../../etc/passwd")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestFormatBackupList(t *testing.T) {
	assert.Equal(t, "No backups found.", FormatBackupList(nil))

	out := FormatBackupList([]BackupInfo{{ID: "00000000000000000001", Size: 2048}})
	assert.Contains(t, out, "2.0 KB")
	assert.Contains(t, out, "00000000000000000001")
}
