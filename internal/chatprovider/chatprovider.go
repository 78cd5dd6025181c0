// Package chatprovider is the HTTP/SSE adapter to an OpenAI-compatible
// chat-completions endpoint. It owns the request encoding and, for
// streaming, the raw event-stream decode, rather than delegating either to
// a vendor SDK.
package chatprovider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/etjones22/workshop/internal/convo"
)

// ToolChoice selects between automatic tool use and none.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// Request is the input to Chat and ChatStream.
type Request struct {
	Messages    []convo.Message        `json:"messages"`
	Tools       []convo.ToolDefinition `json:"-"`
	ToolChoice  ToolChoice             `json:"-"`
	Temperature float64                `json:"temperature"`
	Model       string                 `json:"-"`
}

// wireToolFunction, wireTool and wireRequest shape the actual JSON body, only including
// tools/tool_choice when a non-empty tool list is supplied; some providers
// reject an empty tools array.
type wireToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type wireTool struct {
	Type     string           `json:"type"`
	Function wireToolFunction `json:"function"`
}

type wireRequest struct {
	Model       string          `json:"model"`
	Messages    []convo.Message `json:"messages"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
	Tools       []wireTool      `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

func (r Request) toWire(stream bool) wireRequest {
	w := wireRequest{
		Model:       r.Model,
		Messages:    r.Messages,
		Temperature: r.Temperature,
		Stream:      stream,
	}
	if len(r.Tools) > 0 {
		w.Tools = make([]wireTool, len(r.Tools))
		for i, t := range r.Tools {
			w.Tools[i] = wireTool{
				Type: "function",
				Function: wireToolFunction{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		if r.ToolChoice != "" {
			w.ToolChoice = string(r.ToolChoice)
		} else {
			w.ToolChoice = string(ToolChoiceAuto)
		}
	}
	return w
}

// Completion is the unary chat() result.
type Completion struct {
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message convo.Message `json:"message"`
}

// StreamChunk is one decoded SSE event from chatStream().
type StreamChunk struct {
	Choices []StreamChoice `json:"choices"`
}

type StreamChoice struct {
	Delta Delta `json:"delta"`
}

// Delta is one incremental fragment of an assistant message.
type Delta struct {
	Role      string                `json:"role,omitempty"`
	Content   *string               `json:"content,omitempty"`
	ToolCalls []convo.ToolCallDelta `json:"tool_calls,omitempty"`
}

// Client is a bound connection to one chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// New builds a Client. A zero timeout means no client-side deadline beyond
// context cancellation.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Chat performs a unary (non-streaming) chat-completion call.
func (c *Client) Chat(ctx context.Context, req Request) (Completion, error) {
	body, err := json.Marshal(req.toWire(false))
	if err != nil {
		return Completion{}, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return Completion{}, err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Completion{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return Completion{}, convo.Wrap(convo.ErrProvider, fmt.Errorf("chat provider %d: %s", resp.StatusCode, truncate(string(b), 2000)))
	}

	var out Completion
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Completion{}, convo.Wrap(convo.ErrProvider, fmt.Errorf("decode response: %w", err))
	}
	return out, nil
}

// ChatStream performs a streaming chat-completion call, invoking onChunk for
// each decoded SSE event in order. It returns once the stream ends, the
// context is cancelled, or onChunk returns an error.
func (c *Client) ChatStream(ctx context.Context, req Request, onChunk func(StreamChunk) error) error {
	body, err := json.Marshal(req.toWire(true))
	if err != nil {
		return convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := c.newRequest(ctx, body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return convo.Wrap(convo.ErrProvider, fmt.Errorf("chat provider %d: %s", resp.StatusCode, truncate(string(b), 2000)))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return convo.Wrap(convo.ErrCancelled, err)
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			return nil
		}

		var chunk StreamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			// Malformed lines are implementation chatter, not
			// errors; skip and keep reading.
			continue
		}
		if err := onChunk(chunk); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return convo.Wrap(convo.ErrCancelled, ctx.Err())
		}
		return convo.Wrap(convo.ErrProvider, fmt.Errorf("stream read: %w", err))
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, body []byte) (*http.Request, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, convo.Wrap(convo.ErrInvalidInput, fmt.Errorf("new request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "context canceled") || strings.Contains(err.Error(), "context deadline exceeded") {
		return convo.Wrap(convo.ErrCancelled, err)
	}
	return convo.Wrap(convo.ErrProvider, err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
