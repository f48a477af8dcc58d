// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small file and string helpers shared by regis packages.
//
//   - WriteFileAtomic: crash-safe file replacement (temp file, fsync, rename)
//   - TruncateRunes / TruncateWidth: Unicode-safe truncation for list output
//   - StringWidth / PadRight: column-aware alignment
package util
