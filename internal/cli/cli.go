// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - argument parsing and command routing for sitechat.
package cli

import (
	"fmt"
	"os"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdChat
	CmdList
	CmdShow
	CmdSearch
	CmdExport
	CmdConfig
	CmdVersion
	CmdHelp
)

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Plain      bool   // force the line-mode REPL instead of the TUI
	Resume     bool   // continue the most recent saved transcript
	Verbose    bool   // debug logging
	ConfigPath string // explicit config file
	Endpoint   string // override the chat endpoint

	// Command-specific
	Query      string
	Subcommand string

	// Raw args remaining after flag parsing
	Raw []string
}

const usageText = `sitechat - terminal client for the site assistant

Usage:
  sitechat                    Start the chat TUI (default)
  sitechat chat               Line-mode chat (same as --plain)
  sitechat list               List saved transcripts
  sitechat show <id>          Print a saved transcript
  sitechat search <query>     Search transcript history
  sitechat export <id>        Export a transcript as markdown
  sitechat config [show|init|path]
                              Inspect or create the config file
  sitechat version            Print version information

Flags:
  --plain                     Use the line-mode REPL instead of the TUI
  --resume                    Continue the most recent saved transcript
  --config PATH               Use an explicit config file
  --endpoint URL              Override the chat endpoint
  -v, --verbose               Debug logging
  -h, --help                  Show this help

Interactive commands (both modes):
  /context <text>             Attach page context to the next questions
  /nocontext                  Drop the attached context
  /clear                      Reset the conversation
  /save                       Save the transcript
  /search <query>             Search transcript history (TUI only)
  /quit                       Exit
`

// Parse reads os.Args and returns the command plus parsed arguments.
func Parse() (Command, Args) {
	args := Args{}
	rest := make([]string, 0, len(os.Args)-1)

	argv := os.Args[1:]
	for i := 0; i < len(argv); i++ {
		a := argv[i]
		switch {
		case a == "--plain":
			args.Plain = true
		case a == "--resume":
			args.Resume = true
		case a == "-v" || a == "--verbose":
			args.Verbose = true
		case a == "-h" || a == "--help":
			return CmdHelp, args
		case a == "--config":
			if i+1 < len(argv) {
				i++
				args.ConfigPath = argv[i]
			}
		case strings.HasPrefix(a, "--config="):
			args.ConfigPath = strings.TrimPrefix(a, "--config=")
		case a == "--endpoint":
			if i+1 < len(argv) {
				i++
				args.Endpoint = argv[i]
			}
		case strings.HasPrefix(a, "--endpoint="):
			args.Endpoint = strings.TrimPrefix(a, "--endpoint=")
		default:
			rest = append(rest, a)
		}
	}
	args.Raw = rest

	if len(rest) == 0 {
		if args.Plain {
			return CmdChat, args
		}
		return CmdTUI, args
	}

	cmd := rest[0]
	args.Raw = rest[1:]
	if len(args.Raw) > 0 {
		args.Subcommand = args.Raw[0]
		args.Query = strings.Join(args.Raw, " ")
	}

	switch cmd {
	case "chat":
		return CmdChat, args
	case "list", "ls":
		return CmdList, args
	case "show":
		return CmdShow, args
	case "search":
		return CmdSearch, args
	case "export":
		return CmdExport, args
	case "config":
		return CmdConfig, args
	case "version", "--version":
		return CmdVersion, args
	case "help":
		return CmdHelp, args
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usageText)
		os.Exit(2)
		return CmdHelp, args
	}
}

// PrintUsage writes the help text to stdout.
func PrintUsage() {
	fmt.Print(usageText)
}

// PrintVersion writes version information to stdout.
func PrintVersion() {
	fmt.Printf("sitechat %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
}
