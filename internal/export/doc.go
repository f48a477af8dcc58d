// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversation backups as Markdown or JSON files.
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	path, err := export.ToFile(backup, exp, export.DefaultOptions())
package export
