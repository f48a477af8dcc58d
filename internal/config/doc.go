// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for regis.
//
// Configuration is TOML, with built-in defaults, environment variable
// overrides and validation.
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (REGIS_*)
//   - ~/.regis/config.toml (REGIS_HOME moves the directory)
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	policy := cfg.RetryPolicy()
//
// Watch reloads the file when it changes on disk.
package config
