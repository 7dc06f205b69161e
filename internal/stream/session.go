// Package stream consumes the chat completion stream: an SSE-shaped body
// of `data: ` lines terminated by a [DONE] sentinel. One Session is one
// send-and-receive exchange; it is never retried internally.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/lyra-chat/lyra-cli/internal/api"
)

const (
	dataPrefix   = "data: "
	doneSentinel = "[DONE]"
)

// Event is one occurrence on the stream. Exactly one terminal event is
// delivered per session: Done, Cancelled, or Err. Content events precede
// it in arrival order.
type Event struct {
	Content   string
	Done      bool
	Cancelled bool
	Err       error
}

// Terminal reports whether the event ends the session.
func (e Event) Terminal() bool {
	return e.Done || e.Cancelled || e.Err != nil
}

// Request is the body of the streaming chat POST.
type Request struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// Session is a single in-flight streaming exchange.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
}

// Open sends the streaming POST through the API client's request builder
// (same base URL, headers, and auth) and starts reading the response.
// The returned error covers setup failures only, such as a refused
// connection or a non-2xx initial response; once Open succeeds, all
// outcomes arrive as events. Retry is deliberately absent: a stream must
// not restart itself mid-flight.
func Open(ctx context.Context, client *api.Client, path string, req Request) (*Session, error) {
	ctx, cancel := context.WithCancel(ctx)

	httpReq, err := client.NewRequest(ctx, http.MethodPost, path, &api.RequestOptions{
		Body:    req,
		Headers: map[string]string{"Accept": "text/event-stream"},
	})
	if err != nil {
		cancel()
		return nil, err
	}

	resp, err := client.HTTPClient().Do(httpReq)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return nil, &api.APIError{Kind: api.ErrCancelled, Message: "request cancelled"}
		}
		return nil, &api.APIError{Kind: api.ErrNetwork, Message: fmt.Sprintf("stream request failed: %v", err)}
	}

	if resp.StatusCode == http.StatusUnauthorized {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, client.InvalidateSession(body)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		cancel()
		return nil, &api.APIError{
			Kind:    api.ErrStream,
			Message: fmt.Sprintf("stream request failed with status %d", resp.StatusCode),
			Status:  resp.StatusCode,
			Details: body,
		}
	}

	s := &Session{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event),
	}
	go s.read(resp.Body)
	return s, nil
}

// Events delivers content and the single terminal event. The channel is
// closed after the terminal event.
func (s *Session) Events() <-chan Event { return s.events }

// Cancel aborts the exchange. Chunks already decoded may still be
// delivered, but no Done or Err event will follow a cancel.
func (s *Session) Cancel() { s.cancel() }

// read is the framing loop. bufio's line splitting carries partial lines
// (and UTF-8 sequences split across reads) until the newline arrives, so
// transport chunking never changes the logical line sequence.
func (s *Session) read(body io.ReadCloser) {
	defer close(s.events)
	defer s.cancel()
	defer body.Close()

	scanner := bufio.NewScanner(bufio.NewReaderSize(body, 4096))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		data := strings.TrimPrefix(line, dataPrefix)
		if data == doneSentinel {
			// Terminal: anything still buffered after the sentinel
			// is dropped unread.
			s.emit(Event{Done: true})
			return
		}
		if strings.TrimSpace(data) == "" {
			continue
		}
		if !s.emit(Event{Content: data}) {
			return
		}
	}

	if err := scanner.Err(); err != nil {
		if s.ctx.Err() != nil {
			s.emit(Event{Cancelled: true})
			return
		}
		s.emit(Event{Err: fmt.Errorf("stream read failed: %w", err)})
		return
	}

	// Stream ended cleanly without a sentinel. Complete anyway so the
	// caller is not left waiting on a reply that already finished.
	if s.ctx.Err() != nil {
		s.emit(Event{Cancelled: true})
		return
	}
	s.emit(Event{Done: true})
}

// emit delivers an event unless the session was cancelled while waiting
// for the consumer. Returns false when delivery was abandoned.
func (s *Session) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		if ev.Terminal() {
			return false
		}
		// Consumer may still be draining; try once more without
		// blocking forever.
		select {
		case s.events <- ev:
			return true
		default:
			return false
		}
	}
}
