// package notify classifies connection errors and turns connection state into user notifications
package notify

import (
	"fmt"
	"strings"

	"github.com/desertthunder/sumstream/internal/models"
	"github.com/desertthunder/sumstream/internal/services"
)

// ErrorType is the closed taxonomy of connection errors shown to users.
type ErrorType string

const (
	ErrorTicketRequestFailed  ErrorType = "ticket_request_failed"
	ErrorRateLimited          ErrorType = "rate_limited"
	ErrorConnectionFailed     ErrorType = "connection_failed"
	ErrorAuthenticationFailed ErrorType = "authentication_failed"
	ErrorUnknown              ErrorType = "unknown"
)

// Classification is the user-facing reading of an error.
type Classification struct {
	Type        ErrorType         `json:"type"`
	Title       string            `json:"title"`
	UserMessage string            `json:"userMessage"`
	Retryable   bool              `json:"retryable"`
	Action      models.ActionKind `json:"action"`
}

type rule struct {
	keywords []string
	class    Classification
}

// rules are checked in order; the first rule with a matching keyword wins.
var rules = []rule{
	{
		keywords: []string{"ticket", "401"},
		class: Classification{
			Type:        ErrorTicketRequestFailed,
			Title:       "Live Updates Unavailable",
			UserMessage: "Could not authorize the live update connection. Refresh the page to try again.",
			Retryable:   true,
			Action:      models.ActionRefresh,
		},
	},
	{
		keywords: []string{"rate limit", "rate-limit", "rate_limit", "too many", "429"},
		class: Classification{
			Type:        ErrorRateLimited,
			Title:       "Too Many Requests",
			UserMessage: "Too many connection attempts. Wait a moment and try again.",
			Retryable:   true,
			Action:      models.ActionRetry,
		},
	},
	{
		keywords: []string{"network", "connection", "fetch"},
		class: Classification{
			Type:        ErrorConnectionFailed,
			Title:       "Connection Failed",
			UserMessage: "Unable to reach the server. Check your network connection.",
			Retryable:   true,
			Action:      models.ActionRetry,
		},
	},
	{
		keywords: []string{"unauthorized", "forbidden"},
		class: Classification{
			Type:        ErrorAuthenticationFailed,
			Title:       "Authentication Failed",
			UserMessage: "Your session is no longer valid. Refresh the page and sign in again.",
			Retryable:   false,
			Action:      models.ActionRefresh,
		},
	},
}

var unknown = Classification{
	Type:        ErrorUnknown,
	Title:       "Unexpected Error",
	UserMessage: "Something went wrong with live updates. Refresh the page to try again.",
	Retryable:   false,
	Action:      models.ActionRefresh,
}

// Classify maps raw error text to a [Classification] by case-insensitive substring match.
func Classify(text string) Classification {
	lower := strings.ToLower(text)
	for _, r := range rules {
		for _, kw := range r.keywords {
			if strings.Contains(lower, kw) {
				return r.class
			}
		}
	}
	return unknown
}

// ClassifyError normalizes err to "<status> <message>" and classifies it.
func ClassifyError(err error) Classification {
	if err == nil {
		return unknown
	}
	text := err.Error()
	if code := services.StatusCode(err); code != 0 {
		text = fmt.Sprintf("%d %s", code, text)
	}
	return Classify(text)
}
