// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - The config command.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/EPS-AI-SOLUTIONS/RegisClaudeMaster/internal/config"
)

func (a *App) configPath() (string, error) {
	if a.ConfigPath != "" {
		return a.ConfigPath, nil
	}
	return config.Path()
}

func (a *App) runConfig(args Args) error {
	switch args.Subcommand {
	case "", "show":
		if args.JSON {
			return NewJSONResponse("config", a.Config).Print(a.Out)
		}
		path, _ := a.configPath()
		fmt.Fprintln(a.Out, DimStyle.Render("# effective configuration ("+path+" plus environment)"))
		return toml.NewEncoder(a.Out).Encode(a.Config)

	case "path":
		path, err := a.configPath()
		if err != nil {
			return err
		}
		fmt.Fprintln(a.Out, path)
		return nil

	case "init":
		return a.configInit(args)

	case "get":
		if args.ConfigKey == "" {
			return NewUsageError("config get", "key is required", "regis config get api.base_url\nKeys: "+strings.Join(config.Keys(), ", "))
		}
		val, err := a.Config.Get(args.ConfigKey)
		if err != nil {
			return NewUsageError("config get", err.Error(), "regis config get api.base_url")
		}
		if args.JSON {
			return NewJSONResponse("config", map[string]any{args.ConfigKey: val}).Print(a.Out)
		}
		fmt.Fprintln(a.Out, formatConfigValue(val))
		return nil

	case "set":
		return a.configSet(args)

	case "keys":
		for _, k := range config.Keys() {
			fmt.Fprintln(a.Out, k)
		}
		return nil

	default:
		return NewUsageError("config", "unknown subcommand "+strconv.Quote(args.Subcommand), "regis config [show|path|init|get|set]")
	}
}

func (a *App) configInit(args Args) error {
	path, err := a.configPath()
	if err != nil {
		return err
	}
	force := NewArgParser(args.Raw).BoolFlag("force")
	if _, err := os.Stat(path); err == nil && !force {
		return NewUsageError("config init", path+" already exists", "regis config init --force")
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err := config.SaveTo(config.Default(), path); err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "%s Wrote %s\n", RenderStatus("ok"), path)
	return nil
}

// configSet edits the file form of the config so environment overrides
// are not persisted.
func (a *App) configSet(args Args) error {
	if args.ConfigKey == "" || args.ConfigVal == "" {
		return NewUsageError("config set", "key and value are required", "regis config set api.base_url http://127.0.0.1:8787/api")
	}
	path, err := a.configPath()
	if err != nil {
		return err
	}
	cfg, err := config.ReadFile(path)
	if err != nil {
		return err
	}
	if err := cfg.Set(args.ConfigKey, args.ConfigVal); err != nil {
		return NewUsageError("config set", err.Error(), "regis config set log.level debug")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid value for %s: %w", args.ConfigKey, err)
	}
	if err := config.SaveTo(cfg, path); err != nil {
		return err
	}
	val, _ := cfg.Get(args.ConfigKey)
	fmt.Fprintf(a.Out, "%s %s = %s\n", RenderStatus("ok"), args.ConfigKey, formatConfigValue(val))
	return nil
}

func formatConfigValue(v any) string {
	switch val := v.(type) {
	case []int:
		parts := make([]string, len(val))
		for i, n := range val {
			parts[i] = strconv.Itoa(n)
		}
		return strings.Join(parts, ",")
	default:
		return fmt.Sprint(val)
	}
}
