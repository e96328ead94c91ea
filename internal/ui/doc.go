// Package ui renders connection states, notifications and request progress as styled terminal lines.
//
// Styles come from a [Palette] of [lipgloss.Style] values; lipgloss drops colors when the output
// is not a terminal, so the rendered text stays readable in logs and pipes.
package ui
