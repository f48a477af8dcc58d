// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package storage keeps encrypted backups of the chat conversation.
//
// # Key Types
//
//   - Keyring: holds the AEAD used to seal backups (XChaCha20-Poly1305)
//   - BackupStore: writes, lists, prunes and restores backups on disk
//   - Backup: a decrypted snapshot of the conversation
//
// # Usage
//
//	keyring, err := storage.LoadOrCreateKeyring(keyPath)
//	store, err := storage.NewBackupStore(dir, keyring, storage.Options{})
//	info, err := store.Save(ctx, messages)
//	latest, err := store.LoadLatest(ctx)
//
// # Storage Location
//
// Backups live in ~/.regis/backups/ as one JSON envelope per snapshot. Only
// the newest MaxBackups are kept.
package storage
