// Package convo defines the wire-level conversation data model shared by
// the agent loop, the chat provider adapter, and the session log: messages,
// tool calls, tool-call deltas, and the error-kind taxonomy surfaced by the
// core.
package convo

import "fmt"

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single turn in a Conversation. Content is nil for an
// assistant message that carries only tool calls. ToolCalls is only
// meaningful when Role is RoleAssistant. ToolCallID is required when Role
// is RoleTool.
type Message struct {
	Role       Role       `json:"role"`
	Content    *string    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Text returns the message content, or "" if nil.
func (m Message) Text() string {
	if m.Content == nil {
		return ""
	}
	return *m.Content
}

// NewText builds a Message with plain text content.
func NewText(role Role, text string) Message {
	return Message{Role: role, Content: &text}
}

// NewToolResult builds a tool-role message reporting the result of one call.
func NewToolResult(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: &content, ToolCallID: toolCallID}
}

// ToolCall is a model-emitted request to run a registered tool handler.
// ArgumentsJSON is raw text; its JSON validity is not guaranteed until the
// loop attempts to parse it at execution time.
type ToolCall struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ArgumentsJSON string `json:"arguments"`
}

// ToolCallDelta is one incremental fragment of a ToolCall arriving over a
// streaming response. Index, when present, identifies
// the accumulator slot directly; otherwise slot resolution falls back to
// matching Id against an already-seen call, then to appending a new slot.
type ToolCallDelta struct {
	Index          *int   `json:"index,omitempty"`
	ID             string `json:"id,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsChunk string `json:"arguments_chunk,omitempty"`
}

// ToolDefinition describes one callable tool to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"` // JSON-Schema-like object
}

// Conversation is an ordered, append-only (within a turn) sequence of
// Messages. conv[0].Role must always be RoleSystem.
type Conversation struct {
	Messages []Message
}

// NewConversation starts a fresh conversation with the given system prompt.
func NewConversation(systemPrompt string) *Conversation {
	return &Conversation{Messages: []Message{NewText(RoleSystem, systemPrompt)}}
}

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m Message) {
	c.Messages = append(c.Messages, m)
}

// Reset replaces the conversation with a fresh single-entry system prompt.
func (c *Conversation) Reset(systemPrompt string) {
	c.Messages = []Message{NewText(RoleSystem, systemPrompt)}
}

// ErrorKind enumerates the error taxonomy the core surfaces.
type ErrorKind string

const (
	ErrInvalidInput         ErrorKind = "InvalidInput"
	ErrEscape               ErrorKind = "Escape"
	ErrNotFound             ErrorKind = "NotFound"
	ErrExists               ErrorKind = "Exists"
	ErrProvider             ErrorKind = "ProviderError"
	ErrToolArgumentsInvalid ErrorKind = "ToolArgumentsInvalid"
	ErrToolExecution        ErrorKind = "ToolExecutionError"
	ErrUnauthorized         ErrorKind = "Unauthorized"
	ErrBusy                 ErrorKind = "Busy"
	ErrCancelled            ErrorKind = "Cancelled"
)

// KindError wraps an error with a taxonomy kind so callers (e.g. the remote
// server's HTTP status mapping) can dispatch on it without string matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *KindError) Unwrap() error { return e.Err }

// NewError builds a KindError, wrapping msg as its own error.
func NewError(kind ErrorKind, msg string) *KindError {
	return &KindError{Kind: kind, Err: fmt.Errorf("%s", msg)}
}

// Wrap attaches a kind to an existing error.
func Wrap(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// KindOf extracts the ErrorKind from err if it (or something it wraps) is a
// *KindError; ok is false otherwise.
func KindOf(err error) (kind ErrorKind, ok bool) {
	for err != nil {
		if k, matched := err.(*KindError); matched {
			return k.Kind, true
		}
		u, has := err.(interface{ Unwrap() error })
		if !has {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
