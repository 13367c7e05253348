// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config_cmd.go - handler for the config command.
package cli

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/nvalden/sitechat/internal/config"
	"github.com/nvalden/sitechat/internal/ui/styles"
)

// HandleConfig inspects or creates the config file.
//
// Subcommands:
//
//	show (default)  Print the effective configuration as TOML
//	init            Write a default config file if none exists
//	path            Print the config file path
func HandleConfig(cfg *config.Config, subcommand string) error {
	switch subcommand {
	case "", "show":
		enc := toml.NewEncoder(os.Stdout)
		return enc.Encode(cfg)

	case "init":
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s", path)
		}
		if err := config.SaveTOML(config.Default(), path); err != nil {
			return err
		}
		fmt.Println(styles.RenderSuccess("wrote " + path))
		return nil

	case "path":
		path, err := config.ConfigPathTOML()
		if err != nil {
			return err
		}
		fmt.Println(path)
		return nil

	default:
		return fmt.Errorf("unknown config subcommand %q", subcommand)
	}
}
