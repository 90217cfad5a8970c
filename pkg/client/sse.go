package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/workflowshelf/workflowshelf/pkg/logger"
	"github.com/workflowshelf/workflowshelf/pkg/protocol"
)

// EventStream follows the server's catalog event stream and reconnects with
// backoff when the connection drops.
type EventStream struct {
	baseURL      string
	httpClient   *http.Client
	reconnectMin time.Duration
	reconnectMax time.Duration

	mu    sync.RWMutex
	token string
}

// NewEventStream creates an event stream for the client's server.
func (c *Client) NewEventStream() *EventStream {
	return &EventStream{
		baseURL:      c.baseURL,
		httpClient:   &http.Client{Timeout: 0},
		reconnectMin: 1 * time.Second,
		reconnectMax: 30 * time.Second,
	}
}

// SetToken sets the bearer token sent on (re)connect.
func (s *EventStream) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Subscribe connects and returns a channel of catalog events. The channel is
// closed when ctx is cancelled.
func (s *EventStream) Subscribe(ctx context.Context) <-chan protocol.CatalogEvent {
	events := make(chan protocol.CatalogEvent, 100)
	go s.subscribeLoop(ctx, events)
	return events
}

func (s *EventStream) subscribeLoop(ctx context.Context, events chan<- protocol.CatalogEvent) {
	defer close(events)

	delay := s.reconnectMin
	for {
		if ctx.Err() != nil {
			return
		}

		err := s.connect(ctx, events)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logger.Error("Event stream error: %v (reconnecting in %s)", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > s.reconnectMax {
				delay = s.reconnectMax
			}
			continue
		}
		delay = s.reconnectMin
	}
}

func (s *EventStream) connect(ctx context.Context, events chan<- protocol.CatalogEvent) error {
	req, err := http.NewRequestWithContext(ctx, "GET", s.baseURL+pathEvents, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	s.mu.RLock()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	s.mu.RUnlock()

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	logger.Info("Event stream connected to %s", s.baseURL)

	return readEvents(ctx, bufio.NewScanner(resp.Body), events)
}

// readEvents parses "event:"/"data:" blocks until the stream ends.
func readEvents(ctx context.Context, scanner *bufio.Scanner, events chan<- protocol.CatalogEvent) error {
	var eventType, data string

	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()

		switch {
		case line == "":
			if data != "" {
				var event protocol.CatalogEvent
				if err := json.Unmarshal([]byte(data), &event); err != nil {
					logger.Debug("Skipping malformed event: %v", err)
				} else {
					if event.Type == "" {
						event.Type = eventType
					}
					select {
					case events <- event:
					default:
						logger.Debug("Event dropped (channel full)")
					}
				}
			}
			eventType, data = "", ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return fmt.Errorf("connection closed")
}
