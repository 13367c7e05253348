// sitechat - a terminal client for the site assistant chat endpoint.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/nvalden/sitechat/internal/chatbot"
	"github.com/nvalden/sitechat/internal/cli"
	"github.com/nvalden/sitechat/internal/config"
	"github.com/nvalden/sitechat/internal/history"
	"github.com/nvalden/sitechat/internal/storage"
	"github.com/nvalden/sitechat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func init() {
	cli.Version = Version
	cli.GitCommit = GitCommit
	cli.BuildDate = BuildDate
}

func main() {
	cmd, args := cli.Parse()

	logrus.SetOutput(os.Stderr)
	logrus.SetLevel(logrus.WarnLevel)
	if args.Verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	switch cmd {
	case cli.CmdHelp:
		cli.PrintUsage()
		return
	case cli.CmdVersion:
		cli.PrintVersion()
		return
	}

	cfg, err := loadConfig(args)
	if err != nil {
		fatal(err)
	}

	switch cmd {
	case cli.CmdTUI:
		err = runTUI(cfg, args.Resume)
	case cli.CmdChat:
		err = runChat(cfg, args.Resume)
	case cli.CmdList:
		store, serr := openStore(cfg)
		if serr != nil {
			fatal(serr)
		}
		err = cli.HandleList(store)
	case cli.CmdShow:
		store, serr := openStore(cfg)
		if serr != nil {
			fatal(serr)
		}
		err = cli.HandleShow(store, args.Subcommand)
	case cli.CmdSearch:
		index, ierr := openIndex(cfg)
		if ierr != nil {
			fatal(ierr)
		}
		if index != nil {
			defer index.Close()
		}
		err = cli.HandleSearch(index, args.Query)
	case cli.CmdExport:
		store, serr := openStore(cfg)
		if serr != nil {
			fatal(serr)
		}
		err = cli.HandleExport(store, args.Subcommand)
	case cli.CmdConfig:
		err = cli.HandleConfig(cfg, args.Subcommand)
	}

	if err != nil {
		fatal(err)
	}
}

// loadConfig loads configuration, applies CLI overrides, and validates.
func loadConfig(args cli.Args) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if args.ConfigPath != "" {
		cfg, err = config.LoadFromPath(args.ConfigPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if args.Endpoint != "" {
		cfg.Endpoint.URL = args.Endpoint
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildClient constructs the chat client from config.
func buildClient(cfg *config.Config) (*chatbot.Client, error) {
	client := chatbot.NewClient(cfg.Endpoint.URL).
		WithUserAgent(cfg.Endpoint.UserAgent).
		WithPage(cfg.Endpoint.PageURL, cfg.Endpoint.PageTitle)
	if !client.IsConfigured() {
		return nil, fmt.Errorf("no chat endpoint configured; set endpoint.url or SITECHAT_ENDPOINT")
	}
	return client, nil
}

// openStore opens the transcript store.
func openStore(cfg *config.Config) (*storage.TranscriptStore, error) {
	dir, err := cfg.TranscriptDir()
	if err != nil {
		return nil, err
	}
	store, err := storage.NewTranscriptStoreWithDir(dir)
	if err != nil {
		return nil, err
	}
	store.MaxTranscripts = cfg.Storage.KeepTranscripts
	return store, nil
}

// openIndex opens the history index, or returns nil when disabled.
func openIndex(cfg *config.Config) (*history.Index, error) {
	if !cfg.History.Enabled {
		return nil, nil
	}
	path, err := cfg.HistoryDBPath()
	if err != nil {
		return nil, err
	}
	return history.Open(path)
}

// runTUI starts the full-screen chat interface.
func runTUI(cfg *config.Config, resume bool) error {
	if !cli.IsTTY() {
		return fmt.Errorf("the TUI requires an interactive terminal; try --plain or a subcommand")
	}

	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	index, err := openIndex(cfg)
	if err != nil {
		logrus.WithError(err).Warn("history index unavailable, search disabled")
		index = nil
	}
	if index != nil {
		defer index.Close()
	}

	// Config edits made while the TUI runs are validated as they land;
	// they apply on the next start.
	if path, perr := config.ConfigPathTOML(); perr == nil {
		if w, werr := config.NewWatcher(path, func(*config.Config) {
			logrus.Info("config changed on disk; restart to apply")
		}); werr == nil {
			defer w.Close()
		}
	}

	m := chat.New(client, cfg, store, index)
	if resume {
		if t, terr := store.LoadByIndex(0); terr == nil && t.MessageCount() > 0 {
			if rerr := m.Session().RestoreMessages(t.ToMessages()); rerr != nil {
				logrus.WithError(rerr).Warn("could not resume the last transcript")
			}
		} else if terr != nil && !errors.Is(terr, storage.ErrTranscriptNotFound) {
			logrus.WithError(terr).Warn("could not resume the last transcript")
		}
	}

	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err = p.Run()
	return err
}

// runChat starts the line-mode REPL.
func runChat(cfg *config.Config, resume bool) error {
	client, err := buildClient(cfg)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	index, err := openIndex(cfg)
	if err != nil {
		logrus.WithError(err).Warn("history index unavailable, search disabled")
		index = nil
	}
	if index != nil {
		defer index.Close()
	}
	return cli.HandleChat(cfg, client, store, index, resume)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
