// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package styles provides the visual styling system for the sitechat TUI.
// All colors use Lip Gloss AdaptiveColor so the interface reads well on
// both light and dark terminals.
//
// # Key Types
//
//   - Theme: the full set of styled components, built once at startup
//   - NewTheme: detects terminal capabilities and configures every style
//
// # Usage
//
//	theme := styles.NewTheme()
//	fmt.Println(theme.UserBubble.Render("hello"))
package styles
