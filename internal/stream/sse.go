package stream

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/sumstream/internal/services"
	"github.com/desertthunder/sumstream/internal/shared"
)

const (
	// MaxLineSize is the longest accepted line. A longer line ends the connection.
	MaxLineSize = 64 * 1024

	// MaxEventSize is the largest accepted event payload. Larger events are discarded.
	MaxEventSize = 1024 * 1024

	frameBuffer = 64
)

// Frame is one server-sent event as read off the wire.
type Frame struct {
	Event string
	Data  string
	ID    string
}

// Transport opens a streaming connection.
type Transport interface {
	// Open connects to rawURL and returns the received frames. The channel is closed when the
	// connection ends or ctx is cancelled.
	Open(ctx context.Context, rawURL string) (<-chan Frame, error)
}

// SSETransport is a [Transport] reading text/event-stream responses over HTTP.
type SSETransport struct {
	client *http.Client
	logger *log.Logger
}

// NewSSETransport creates an SSE transport. A nil client gets a dedicated client without a
// timeout, since streams are long lived.
func NewSSETransport(client *http.Client, logger *log.Logger) *SSETransport {
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &SSETransport{client: client, logger: shared.WithLogger(logger, "component", "sse")}
}

// Open issues the GET request and starts reading frames.
//
// Network failures and non-2xx responses wrap [shared.ErrTransport]; HTTP failures also carry a
// *[services.StatusError].
func (s *SSETransport) Open(ctx context.Context, rawURL string) (<-chan Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.client.Do(req)
	if err != nil {
		// url.Error repeats the URL, which carries the credential.
		var ue *url.Error
		if errors.As(err, &ue) {
			err = ue.Err
		}
		return nil, fmt.Errorf("%w: connection failed: %w", shared.ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: %w", shared.ErrTransport,
			&services.StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}

	frames := make(chan Frame, frameBuffer)
	go func() {
		defer close(frames)
		defer resp.Body.Close()

		if err := ReadFrames(ctx, resp.Body, frames, s.logger); err != nil && ctx.Err() == nil {
			s.logger.Warn("stream read failed", "error", err)
		}
	}()

	return frames, nil
}

// CloseIdleConnections closes keep-alive connections held by the client.
func (s *SSETransport) CloseIdleConnections() {
	s.client.CloseIdleConnections()
}

// ReadFrames parses server-sent events from r and sends them to out until r ends or ctx is done.
//
// Comments and unknown fields are skipped, multi-line data is joined with newlines, and events
// without data are not emitted.
func ReadFrames(ctx context.Context, r io.Reader, out chan<- Frame, logger *log.Logger) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLineSize)

	var (
		frame     Frame
		data      []string
		size      int
		oversized bool
	)

	reset := func() {
		frame = Frame{}
		data = nil
		size = 0
		oversized = false
	}

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}

		line := scanner.Text()
		if line == "" {
			if len(data) > 0 && !oversized {
				frame.Data = strings.Join(data, "\n")
				if frame.Event == "" {
					frame.Event = "message"
				}
				select {
				case out <- frame:
				case <-ctx.Done():
					return nil
				}
			}
			reset()
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			frame.Event = value
		case "id":
			frame.ID = value
		case "data":
			if oversized {
				continue
			}
			next := size + len(value)
			if size > 0 {
				next++
			}
			if next > MaxEventSize {
				logger.Warn("discarding oversized event", "size", next, "limit", MaxEventSize)
				oversized = true
				data = nil
				continue
			}
			data = append(data, value)
			size = next
		}
	}

	return scanner.Err()
}
