// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// colorize is true when stdout is a terminal
var colorize = term.IsTerminal(int(os.Stdout.Fd()))

func paint(style lipgloss.Style, s string) string {
	if !colorize {
		return s
	}
	return style.Render(s)
}

// resultMarker returns the SUCCESS or ERROR tag for a reply
func resultMarker(ok bool) string {
	if ok {
		return paint(successStyle, "SUCCESS")
	}
	return paint(failStyle, "ERROR")
}
