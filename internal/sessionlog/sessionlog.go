// Package sessionlog appends one JSON object per line to a durable,
// append-only session transcript. Logging is fire-and-forget: a write
// failure is reported to the caller but never aborts a turn.
package sessionlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EntryType enumerates the recognized line shapes.
type EntryType string

const (
	TypeMessage    EntryType = "message"
	TypeToolCall   EntryType = "tool_call"
	TypeToolResult EntryType = "tool_result"
	TypeAgent      EntryType = "agent"
)

// Entry is one JSONL line. Payload carries the type-specific fields and is
// marshaled inline at the top level alongside ts/type.
type Entry struct {
	TS      time.Time `json:"ts"`
	Type    EntryType `json:"type"`
	Payload any       `json:"-"`
}

// MessagePayload backs a TypeMessage entry.
type MessagePayload struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ToolCalls any    `json:"tool_calls,omitempty"`
}

// ToolCallPayload backs a TypeToolCall entry. Arguments may be the raw
// string or the parsed object.
type ToolCallPayload struct {
	Name      string `json:"name"`
	Arguments any    `json:"arguments"`
}

// ToolResultPayload backs a TypeToolResult entry.
type ToolResultPayload struct {
	Name   string `json:"name"`
	Result any    `json:"result"`
}

// AgentPayload backs a TypeAgent entry.
type AgentPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Reason  string `json:"reason"`
	Content string `json:"content"`
}

// MarshalJSON flattens Payload's fields alongside ts/type so every line is a
// single flat JSON object.
func (e Entry) MarshalJSON() ([]byte, error) {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, err
	}
	fields["ts"], _ = json.Marshal(e.TS)
	fields["type"], _ = json.Marshal(e.Type)
	return json.Marshal(fields)
}

// Logger appends JSONL entries to one session's transcript file.
type Logger struct {
	mu   sync.Mutex
	file *os.File
}

// Open creates <baseDir>/.workshop/sessions/<timestamp>.jsonl and returns a
// Logger bound to it. timestamp should be a filesystem-safe stamp supplied
// by the caller (so tests stay deterministic without calling time.Now here).
func Open(baseDir, timestamp string) (*Logger, error) {
	dir := filepath.Join(baseDir, ".workshop", "sessions")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("sessionlog: create %q: %w", dir, err)
	}
	path := filepath.Join(dir, timestamp+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("sessionlog: open %q: %w", path, err)
	}
	return &Logger{file: f}, nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

func (l *Logger) append(ts time.Time, typ EntryType, payload any) error {
	line, err := json.Marshal(Entry{TS: ts, Type: typ, Payload: payload})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err = l.file.Write(line)
	return err
}

// Message logs one conversation message.
func (l *Logger) Message(ts time.Time, role, content string, toolCalls any) error {
	return l.append(ts, TypeMessage, MessagePayload{Role: role, Content: content, ToolCalls: toolCalls})
}

// ToolCall logs one tool invocation request.
func (l *Logger) ToolCall(ts time.Time, name string, arguments any) error {
	return l.append(ts, TypeToolCall, ToolCallPayload{Name: name, Arguments: arguments})
}

// ToolResult logs one tool invocation result.
func (l *Logger) ToolResult(ts time.Time, name string, result any) error {
	return l.append(ts, TypeToolResult, ToolResultPayload{Name: name, Result: result})
}

// Agent logs a specialist agent's synthesized note.
func (l *Logger) Agent(ts time.Time, id, name, reason, content string) error {
	return l.append(ts, TypeAgent, AgentPayload{ID: id, Name: name, Reason: reason, Content: content})
}
