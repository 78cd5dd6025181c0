// Package remoteclient is the HTTP/SSE consumer half of internal/remoteserver:
// it sends chat turns to a remote workshop server and mirrors the
// session/token/agent/error events it receives back to caller callbacks.
package remoteclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/etjones22/workshop/internal/convo"
)

// Options configures a Session.
type Options struct {
	BaseURL string
	Token   string
	UserID  string
	// HTTPClient lets tests substitute a stub transport; defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Session is a remote chat session bound to one baseUrl/token/userId tuple.
// It is safe for sequential use only; Send serializes naturally through the
// caller, matching the server's own per-session busy guard.
type Session struct {
	opts Options

	mu        sync.Mutex
	sessionID string
}

// New builds a Session. No network call is made until the first Send.
func New(opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	return &Session{opts: opts}
}

type sseEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Token     string `json:"token"`
	Name      string `json:"name"`
	Content   string `json:"content"`
	Message   string `json:"message"`
}

type chatRequestBody struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId,omitempty"`
	UserID    string `json:"userId,omitempty"`
}

// Send posts one chat turn and streams its SSE events, invoking onToken for
// each token event and onAgent for each agent event as they arrive. It
// returns the concatenated, trimmed token text on a done event, or an error
// built from an error event or from the underlying transport/cancellation.
func (s *Session) Send(ctx context.Context, message string, onToken func(string), onAgent func(name, content string)) (string, error) {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	body, err := json.Marshal(chatRequestBody{Message: message, SessionID: sessionID, UserID: s.opts.UserID})
	if err != nil {
		return "", convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("marshal chat request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/chat", bytes.NewReader(body))
	if err != nil {
		return "", convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", convo.Wrap(convo.ErrCancelled, ctx.Err())
		}
		return "", convo.Wrap(convo.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return "", convo.NewError(convo.ErrBusy, "remote session is busy")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", convo.Wrap(convo.ErrProvider, fmt.Errorf("remote chat %d", resp.StatusCode))
	}

	var out strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return "", convo.Wrap(convo.ErrCancelled, err)
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")

		var evt sseEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			continue
		}

		switch evt.Type {
		case "session":
			s.mu.Lock()
			s.sessionID = evt.SessionID
			s.mu.Unlock()
		case "token":
			out.WriteString(evt.Token)
			if onToken != nil {
				onToken(evt.Token)
			}
		case "agent":
			if onAgent != nil {
				onAgent(evt.Name, evt.Content)
			}
		case "error":
			return "", convo.NewError(convo.ErrProvider, evt.Message)
		case "done":
			return strings.TrimSpace(out.String()), nil
		}
	}
	if err := scanner.Err(); err != nil {
		return "", convo.Wrap(convo.ErrProvider, fmt.Errorf("stream read: %w", err))
	}
	return strings.TrimSpace(out.String()), nil
}

// Reset clears the remote session's conversation, if one has been created.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()
	if sessionID == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"sessionId": sessionID})
	if err != nil {
		return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("marshal reset request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+"/reset", bytes.NewReader(body))
	if err != nil {
		return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("new request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.opts.Token)
	}

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return convo.Wrap(convo.ErrProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return convo.NewError(convo.ErrNotFound, "remote session not found")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return convo.Wrap(convo.ErrProvider, fmt.Errorf("remote reset %d", resp.StatusCode))
	}
	return nil
}

// SessionID returns the cached remote session id, or "" if no turn has run
// yet.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}
