package services

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// maxEventSize bounds a single SSE line
const maxEventSize = 1 << 20

// SSESource subscribes to a server-sent events endpoint
type SSESource struct {
	logger     *zap.Logger
	httpClient *http.Client
}

// NewSSESource creates a new SSE push source
func NewSSESource(logger *zap.Logger) *SSESource {
	return &SSESource{
		logger: logger,
		// No client timeout: the response body is a long-lived stream
		httpClient: &http.Client{},
	}
}

// Subscribe opens the event stream and dispatches every event's data to handler
func (s *SSESource) Subscribe(ctx context.Context, url string, handler SourceHandler) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to connect to event stream: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("event stream returned %s", resp.Status)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		return fmt.Errorf("unexpected content type %q", ct)
	}

	s.logger.Info("Connected to telemetry event stream", zap.String("url", url))
	handler.OnOpen()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventSize)

	var data bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()

		// A blank line terminates the event
		if line == "" {
			if data.Len() > 0 {
				payload := make([]byte, data.Len())
				copy(payload, data.Bytes())
				data.Reset()
				handler.OnMessage(payload)
			}
			continue
		}

		// Comments are keep-alives
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		case "event", "id", "retry":
			// The dashboard only consumes data; named events carry the same payload
		default:
			s.logger.Debug("Ignoring unknown SSE field", zap.String("field", field))
		}
	}

	if ctx.Err() != nil {
		return nil
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read event stream: %w", err)
	}
	return ErrStreamClosed
}
