// Package agentloop is the bounded reason/act loop that drives the chat
// provider, executes tool calls, and returns the turn's final text. It is
// the busiest consumer of every other package: it builds the conversation,
// owns tool dispatch ordering, and enforces the step and budget bounds.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/router"
	"github.com/etjones22/workshop/internal/sessionlog"
	"github.com/etjones22/workshop/internal/specialist"
)

// writableTools is the allow-list a write requires confirm() for when
// autoApprove is false.
var writableTools = map[string]bool{
	"fs_write":       true,
	"fs_apply_patch": true,
}

// ToolHandler executes one registered tool against already-JSON-parsed
// arguments and returns the content to embed in the tool result message.
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Tool binds a callable definition to its handler.
type Tool struct {
	Def     convo.ToolDefinition
	Handler ToolHandler
}

// Config wires a Loop to its collaborators. Fields left zero fall back to
// their documented defaults.
type Config struct {
	Client   *chatprovider.Client
	Model    string
	MaxSteps int
	Tools    []Tool
	Budget   *Budget

	// OnToken, when non-nil, switches step 3a to chatStream and receives
	// each content delta as it arrives.
	OnToken func(string)
	// OnAgent is notified whenever C8/C9 dispatch to a specialist.
	OnAgent func(name, content string)
	// Confirm gates writable-tool calls when AutoApprove is false.
	Confirm     func(question string) bool
	AutoApprove bool

	Logger *sessionlog.Logger
	// Now lets tests supply a deterministic clock; defaults to time.Now.
	Now func() time.Time
}

// Loop runs turns against one Conversation.
type Loop struct {
	cfg     Config
	tracker *BudgetTracker
}

// New builds a Loop. A nil cfg.Budget disables budget tracking entirely;
// only the step bound applies.
func New(cfg Config) *Loop {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 12
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	var tracker *BudgetTracker
	if cfg.Budget != nil {
		tracker = NewBudgetTracker(*cfg.Budget, cfg.Now)
	}
	return &Loop{cfg: cfg, tracker: tracker}
}

func (l *Loop) now() time.Time { return l.cfg.Now() }

func (l *Loop) log(fn func() error) {
	if l.cfg.Logger == nil {
		return
	}
	// Logger errors are swallowed; logging never aborts a turn.
	_ = fn()
}

// Turn runs one full turn of the loop for userText against conv, mutating
// conv in place and returning the turn's final text.
func (l *Loop) Turn(ctx context.Context, conv *convo.Conversation, userText string) (string, error) {
	if l.cfg.Budget != nil {
		l.tracker = NewBudgetTracker(*l.cfg.Budget, l.cfg.Now)
	}

	conv.Append(convo.NewText(convo.RoleUser, userText))
	l.log(func() error { return l.cfg.Logger.Message(l.now(), string(convo.RoleUser), userText, nil) })

	if match := router.Route(userText); match != nil {
		res, err := specialist.Run(ctx, l.cfg.Client, l.cfg.Model, match.Agent, userText)
		if err != nil {
			return "", err
		}
		if l.cfg.OnAgent != nil {
			l.cfg.OnAgent(match.Agent.Name, res.Text)
		}
		l.log(func() error {
			return l.cfg.Logger.Agent(l.now(), match.Agent.ID, match.Agent.Name, match.Reason, res.Text)
		})
		conv.Append(convo.NewText(convo.RoleSystem, res.Note))
	}

	for step := 0; step < l.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return "", convo.Wrap(convo.ErrCancelled, err)
		}

		if l.tracker != nil {
			if reason := l.tracker.Exceeded(); reason != "" {
				return fmt.Sprintf("Budget exceeded: %s.", reason), nil
			}
		}

		assistantMsg, usage, err := l.callProvider(ctx, conv.Messages)
		if err != nil {
			return "", err
		}
		if l.tracker != nil {
			// Tool calls are counted individually in executeToolCall as each
			// one actually runs, not here, to avoid double-counting them.
			l.tracker.Record(usage.tokens, 0)
		}

		if assistantMsg.Text() == "" && len(assistantMsg.ToolCalls) == 0 {
			return "No response from model.", nil
		}

		conv.Append(assistantMsg)
		l.log(func() error {
			return l.cfg.Logger.Message(l.now(), string(convo.RoleAssistant), assistantMsg.Text(), assistantMsg.ToolCalls)
		})

		if len(assistantMsg.ToolCalls) > 0 {
			for _, tc := range assistantMsg.ToolCalls {
				result := l.executeToolCall(ctx, tc)
				conv.Append(convo.NewToolResult(tc.ID, result))
			}
			continue
		}

		return assistantMsg.Text(), nil
	}

	return fmt.Sprintf("Reached max steps (%d) without final response.", l.cfg.MaxSteps), nil
}

type usageInfo struct {
	tokens int
}

// callProvider makes one model call, using chatStream when an OnToken
// observer is registered and assembling tool-call deltas live, otherwise a
// unary call.
func (l *Loop) callProvider(ctx context.Context, messages []convo.Message) (convo.Message, usageInfo, error) {
	tools := make([]convo.ToolDefinition, 0, len(l.cfg.Tools))
	for _, t := range l.cfg.Tools {
		tools = append(tools, t.Def)
	}

	req := chatprovider.Request{
		Model:       l.cfg.Model,
		Messages:    messages,
		Tools:       tools,
		ToolChoice:  chatprovider.ToolChoiceAuto,
		Temperature: 0,
	}

	if l.cfg.OnToken == nil {
		completion, err := l.cfg.Client.Chat(ctx, req)
		if err != nil {
			return convo.Message{}, usageInfo{}, err
		}
		if len(completion.Choices) == 0 {
			return convo.Message{}, usageInfo{}, nil
		}
		msg := completion.Choices[0].Message
		return msg, usageInfo{tokens: approxTokens(msg.Text())}, nil
	}

	var text strings.Builder
	asm := newToolCallAssembler(l.now)

	err := l.cfg.Client.ChatStream(ctx, req, func(chunk chatprovider.StreamChunk) error {
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != nil {
				text.WriteString(*choice.Delta.Content)
				l.cfg.OnToken(*choice.Delta.Content)
			}
			for _, d := range choice.Delta.ToolCalls {
				asm.merge(d)
			}
		}
		return nil
	})
	if err != nil {
		return convo.Message{}, usageInfo{}, err
	}

	msg := convo.Message{Role: convo.RoleAssistant, ToolCalls: asm.finalize()}
	if text.Len() > 0 {
		s := text.String()
		msg.Content = &s
	}
	return msg, usageInfo{tokens: approxTokens(text.String())}, nil
}

// approxTokens is a cheap token-count stand-in used only to drive the
// optional budget tracker; the provider's own usage field is not part of
// the wire contract this adapter relies on.
func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

// executeToolCall parses the call's arguments, gates writable tools behind
// confirm, and runs the registered handler, embedding any failure in the
// returned tool result.
func (l *Loop) executeToolCall(ctx context.Context, tc convo.ToolCall) string {
	var args map[string]any
	if tc.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(tc.ArgumentsJSON), &args); err != nil {
			return toolErrorJSON(fmt.Sprintf("Invalid tool arguments for %s", tc.Name))
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	if writableTools[tc.Name] && !l.cfg.AutoApprove {
		if l.cfg.Confirm == nil || !l.cfg.Confirm(fmt.Sprintf("Allow %s?", tc.Name)) {
			l.log(func() error { return l.cfg.Logger.ToolResult(l.now(), tc.Name, map[string]string{"error": "User declined write operation"}) })
			return toolErrorJSON("User declined write operation")
		}
	}

	l.log(func() error { return l.cfg.Logger.ToolCall(l.now(), tc.Name, args) })

	tool, ok := l.findTool(tc.Name)
	if !ok {
		return toolErrorJSON(fmt.Sprintf("unknown tool: %s", tc.Name))
	}

	if l.tracker != nil {
		l.tracker.RecordToolCall()
	}

	content, err := tool.Handler(ctx, args)
	if err != nil {
		l.log(func() error { return l.cfg.Logger.ToolResult(l.now(), tc.Name, map[string]string{"error": err.Error()}) })
		return toolErrorJSON(err.Error())
	}

	l.log(func() error { return l.cfg.Logger.ToolResult(l.now(), tc.Name, content) })
	return content
}

func (l *Loop) findTool(name string) (Tool, bool) {
	for _, t := range l.cfg.Tools {
		if t.Def.Name == name {
			return t, true
		}
	}
	return Tool{}, false
}

func toolErrorJSON(message string) string {
	b, _ := json.Marshal(map[string]string{"error": message})
	return string(b)
}
