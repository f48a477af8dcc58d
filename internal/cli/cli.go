// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and usage text for regis.
package cli

import (
	"fmt"
	"io"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdQueue
	CmdBackup
	CmdHealth
	CmdConfig
	CmdStats
	CmdVersion
	CmdHelp
)

var commandNames = map[Command]string{
	CmdChat:    "chat",
	CmdAsk:     "ask",
	CmdQueue:   "queue",
	CmdBackup:  "backup",
	CmdHealth:  "health",
	CmdConfig:  "config",
	CmdStats:   "stats",
	CmdVersion: "version",
	CmdHelp:    "help",
}

// String returns the command name as typed on the command line.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	ConfigPath string
	Verbose    bool
	Offline    bool
	JSON       bool
	Model      string

	// Command-specific
	Query      string
	NoStream   bool
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw args after the command name
	Raw []string
}

const usageText = `regis - resilient streaming chat client

Usage:
  regis                          Start interactive chat (default)
  regis ask "prompt"             Ask a single question
  regis chat                     Interactive chat
  regis queue [list|drain|clear] Offline queue management
  regis backup [list|restore|export|clear]
                                 Conversation backups
  regis health                   Check the backend
  regis config [show|path|init|get|set]
                                 Configuration
  regis stats                    Request statistics
  regis version                  Version information
  regis help                     This help

Ask Options:
  -m, --model MODEL              Model to request (default: config default_model)
  --no-stream                    Wait for the full answer instead of streaming
  --json                         Print the result as JSON

Chat Commands:
  /undo /redo                    Step through conversation history
  /clear                         Start over (undoable)
  /cancel                        Cancel the in-flight request
  /queue                         Show queued offline prompts
  /status                        Session counters
  /save                          Write a backup now
  /quit                          Exit

Backup Commands:
  regis backup restore [ID]      Print a backup (newest by default)
  regis backup export [ID] [--format md|json] [--out DIR]
                                 Write a backup to a file
  regis backup clear --confirm   Delete all backups

Config Commands:
  regis config show              Print the effective configuration
  regis config path              Print the config file path
  regis config init              Write a default config file
  regis config get KEY           Print one value (e.g. api.base_url)
  regis config set KEY VALUE     Change one value and save

Global Options:
  --config PATH                  Config file (default: ~/.regis/config.toml)
  -v, --verbose                  Debug logging
  --offline                      Never contact the backend; queue prompts

Environment:
  REGIS_HOME                     Data directory (default: ~/.regis)
  REGIS_API_URL                  Backend base URL
  REGIS_MODEL                    Default model
  REGIS_LOG_LEVEL                debug, info, warn, error
  REGIS_LOCALE                   Message language (en, pl)
  REGIS_OFFLINE                  Start offline
  REGIS_METRICS_ADDR             Prometheus listen address
  REGIS_BACKUP_PASSPHRASE        Derive the backup key from a passphrase

Version: %s
`

// PrintUsage writes the usage/help text to w.
func PrintUsage(w io.Writer) {
	fmt.Fprintf(w, usageText, Version)
}

// PrintVersion writes version information to w.
func PrintVersion(w io.Writer) {
	fmt.Fprintf(w, "regis version %s\n", Version)
	fmt.Fprintf(w, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(w, "  Build date: %s\n", BuildDate)
}

// Parse parses command-line arguments (without the program name) and
// returns the command and args.
func Parse(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "ask", "a":
		parseAskArgs(&parsedArgs, remaining)
		return CmdAsk, parsedArgs

	case "chat":
		parseAskArgs(&parsedArgs, remaining)
		parsedArgs.Query = ""
		return CmdChat, parsedArgs

	case "queue", "q":
		parseSubcommand(&parsedArgs, remaining)
		return CmdQueue, parsedArgs

	case "backup", "backups":
		parseSubcommand(&parsedArgs, remaining)
		return CmdBackup, parsedArgs

	case "health", "ping":
		return CmdHealth, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "stats":
		parseSubcommand(&parsedArgs, remaining)
		return CmdStats, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Anything else is treated as a prompt.
		parsedArgs.Raw = append([]string{cmd}, remaining...)
		parseAskArgs(&parsedArgs, parsedArgs.Raw)
		return CmdAsk, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "--":
			remaining = append(remaining, args[i:]...)
			return remaining, parsedArgs
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--offline":
			parsedArgs.Offline = true
		case "--json":
			parsedArgs.JSON = true
		case "--config":
			if i+1 < len(args) {
				i++
				parsedArgs.ConfigPath = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--config=") {
				parsedArgs.ConfigPath = strings.TrimPrefix(arg, "--config=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// parseAskArgs parses ask command specific arguments.
func parseAskArgs(args *Args, remaining []string) {
	var query []string

	for i := 0; i < len(remaining); i++ {
		arg := remaining[i]

		switch arg {
		case "-m", "--model":
			if i+1 < len(remaining) {
				i++
				args.Model = remaining[i]
			}
		case "--no-stream":
			args.NoStream = true
		case "--":
			query = append(query, remaining[i+1:]...)
			i = len(remaining)
		default:
			if strings.HasPrefix(arg, "--model=") {
				args.Model = strings.TrimPrefix(arg, "--model=")
			} else if !strings.HasPrefix(arg, "-") {
				query = append(query, arg)
			}
		}
	}

	args.Query = strings.Join(query, " ")
}

// parseSubcommand records the first positional argument.
func parseSubcommand(args *Args, remaining []string) {
	p := NewArgParser(remaining)
	args.Subcommand = p.Subcommand()
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
		if len(remaining) > 1 {
			args.ConfigKey = remaining[1]
		}
		if len(remaining) > 2 {
			args.ConfigVal = strings.Join(remaining[2:], " ")
		}
	}
}
