// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements argument parsing and the non-TUI command
// handlers: the plain-terminal chat REPL, transcript listing and export,
// history search, and config inspection.
package cli
