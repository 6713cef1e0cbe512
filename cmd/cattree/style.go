package main

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// styles renders for one writer, so colors only appear on a terminal.
type styles struct {
	ok    lipgloss.Style
	err   lipgloss.Style
	dim   lipgloss.Style
	title lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		ok:    r.NewStyle().Foreground(lipgloss.Color("86")),
		err:   r.NewStyle().Foreground(lipgloss.Color("196")),
		dim:   r.NewStyle().Foreground(lipgloss.Color("241")),
		title: r.NewStyle().Bold(true).Foreground(lipgloss.Color("205")),
	}
}
