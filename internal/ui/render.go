package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/sumstream/internal/consumer"
	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/notify"
)

// StatusStyle picks the style for a connection status.
func (p *Palette) StatusStyle(s models.Status) lipgloss.Style {
	switch s {
	case models.StatusConnected:
		return p.ok
	case models.StatusError, models.StatusFailed:
		return p.err
	case models.StatusReconnecting, models.StatusRateLimited:
		return p.warn
	default:
		return p.help
	}
}

// NotificationStyle picks the style for a notification severity.
func (p *Palette) NotificationStyle(t models.NotificationType) lipgloss.Style {
	switch t {
	case models.NotificationError:
		return p.err
	case models.NotificationWarning:
		return p.warn
	case models.NotificationSuccess:
		return p.ok
	default:
		return p.title
	}
}

// StateLine renders a connection state, e.g. "● reconnecting (attempt 2) HTTP 503".
func StateLine(st models.ConnectionState) string {
	var b strings.Builder
	b.WriteString(styles.StatusStyle(st.Status).Render("● " + st.Status.String()))
	if st.ReconnectAttempts > 0 {
		fmt.Fprintf(&b, " (attempt %d)", st.ReconnectAttempts)
	}
	if st.LastError != "" {
		b.WriteString(" ")
		b.WriteString(styles.help.Render(st.LastError))
	}
	return b.String()
}

// NotificationLine renders a notification with its action label, if any.
func NotificationLine(n models.Notification) string {
	style := styles.NotificationStyle(n.Type)
	line := style.Render(fmt.Sprintf("[%s] %s", n.Type, n.Title))
	if n.Message != "" {
		line += " " + n.Message
	}
	if n.Action != nil {
		line += " " + styles.help.Render("→ "+n.Action.Label)
	}
	return line
}

// RequestLine renders the progress of one request.
func RequestLine(r consumer.Request) string {
	var status string
	switch r.State {
	case consumer.RequestCompleted:
		status = styles.ok.Render("completed")
	case consumer.RequestFailed:
		status = styles.err.Render("failed")
	default:
		status = styles.warn.Render(fmt.Sprintf("%3.0f%%", r.Progress*100))
	}

	line := fmt.Sprintf("%s %s", styles.title.Render(r.ID), status)
	if r.Message != "" {
		line += " " + r.Message
	}
	if r.Warning != "" {
		line += " " + styles.warn.Render(r.Warning)
	}
	if r.TokensUsed > 0 {
		line += styles.help.Render(fmt.Sprintf(" (%d tokens)", r.TokensUsed))
	}
	return line
}

// ClassificationLine renders the result of [notify.Classify].
func ClassificationLine(c notify.Classification) string {
	retry := "not retryable"
	if c.Retryable {
		retry = "retryable"
	}
	return fmt.Sprintf("%s %s\n%s\n%s", styles.title.Render(c.Title), styles.help.Render(string(c.Type)),
		c.UserMessage, styles.help.Render(fmt.Sprintf("%s, action: %s", retry, c.Action)))
}

// Warning renders a warning line.
func Warning(msg string) string { return styles.warn.Render("! " + msg) }

// Success renders a success line.
func Success(msg string) string { return styles.ok.Render("✓ " + msg) }
