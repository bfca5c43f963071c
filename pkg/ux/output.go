// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output styling for the fstrace CLI.
//
// A Printer renders styled output when its writer is a terminal and plain,
// tab-separated output otherwise, so piping a command into other tools
// yields parseable text.
package ux

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/mattn/go-isatty"
)

// Color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // Bright teal - highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // Primary teal - headers
	ColorTealDeep    = lipgloss.Color("#16858E") // Deep teal - borders
	ColorSlate       = lipgloss.Color("#2C4A54") // Slate - muted text

	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
)

// Mode selects how a Printer renders.
type Mode int

const (
	// ModeRich renders colors, icons and bordered tables.
	ModeRich Mode = iota

	// ModeMachine renders plain prefixed lines and tab-separated tables.
	ModeMachine
)

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
)

type styles struct {
	title   lipgloss.Style
	muted   lipgloss.Style
	success lipgloss.Style
	warning lipgloss.Style
	err     lipgloss.Style
	header  lipgloss.Style
	cell    lipgloss.Style
	border  lipgloss.Style
}

// Printer writes styled CLI output.
//
// Thread Safety: not safe for concurrent use.
type Printer struct {
	w      io.Writer
	mode   Mode
	styles styles
}

// NewPrinter returns a Printer for w, in ModeRich only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	mode := ModeMachine
	if IsTerminal(w) {
		mode = ModeRich
	}
	return NewPrinterWithMode(w, mode)
}

// NewPrinterWithMode returns a Printer with an explicit mode.
func NewPrinterWithMode(w io.Writer, mode Mode) *Printer {
	r := lipgloss.NewRenderer(w)
	return &Printer{
		w:    w,
		mode: mode,
		styles: styles{
			title:   r.NewStyle().Bold(true).Foreground(ColorTealBright),
			muted:   r.NewStyle().Foreground(ColorSlate),
			success: r.NewStyle().Foreground(ColorTealBright),
			warning: r.NewStyle().Foreground(ColorWarning),
			err:     r.NewStyle().Foreground(ColorError),
			header:  r.NewStyle().Bold(true).Foreground(ColorTealPrimary).Padding(0, 1),
			cell:    r.NewStyle().Padding(0, 1),
			border:  r.NewStyle().Foreground(ColorTealDeep),
		},
	}
}

// IsTerminal reports whether w is a terminal file.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Mode returns the render mode.
func (p *Printer) Mode() Mode {
	return p.mode
}

// Title prints a section title. Suppressed in machine mode.
func (p *Printer) Title(text string) {
	if p.mode == ModeMachine {
		return
	}
	fmt.Fprintln(p.w, p.styles.title.Render(text))
}

// Success prints a success line.
func (p *Printer) Success(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "OK: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.styles.success.Render(string(IconSuccess)), text)
}

// Warning prints a warning line.
func (p *Printer) Warning(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.styles.warning.Render(string(IconWarning)), p.styles.warning.Render(text))
}

// Error prints an error line.
func (p *Printer) Error(text string) {
	if p.mode == ModeMachine {
		fmt.Fprintf(p.w, "ERROR: %s\n", text)
		return
	}
	fmt.Fprintf(p.w, "%s %s\n", p.styles.err.Render(string(IconError)), p.styles.err.Render(text))
}

// KeyValues prints aligned "key: value" lines, or "key\tvalue" in machine mode.
func (p *Printer) KeyValues(pairs [][2]string) {
	width := 0
	for _, kv := range pairs {
		width = max(width, len(kv[0]))
	}
	for _, kv := range pairs {
		if p.mode == ModeMachine {
			fmt.Fprintf(p.w, "%s\t%s\n", kv[0], kv[1])
			continue
		}
		key := p.styles.muted.Render(fmt.Sprintf("%-*s", width, kv[0]))
		fmt.Fprintf(p.w, "  %s %s %s\n", string(IconBullet), key, kv[1])
	}
}

// Table prints rows under headers.
func (p *Printer) Table(headers []string, rows [][]string) {
	if p.mode == ModeMachine {
		fmt.Fprintln(p.w, strings.Join(headers, "\t"))
		for _, row := range rows {
			fmt.Fprintln(p.w, strings.Join(row, "\t"))
		}
		return
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(p.styles.border).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return p.styles.header
			}
			return p.styles.cell
		})
	fmt.Fprintln(p.w, t.Render())
}

// Paths prints written file paths, one per line.
func (p *Printer) Paths(paths []string) {
	for _, path := range paths {
		if p.mode == ModeMachine {
			fmt.Fprintln(p.w, path)
			continue
		}
		fmt.Fprintf(p.w, "  %s %s\n", p.styles.muted.Render(string(IconArrow)), path)
	}
}
