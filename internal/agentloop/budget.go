package agentloop

import (
	"fmt"
	"sync"
	"time"
)

// Budget bounds resource use across an entire Loop turn, alongside (not
// instead of) the maxSteps step bound.
type Budget struct {
	MaxTokens    int
	MaxToolCalls int
	MaxDuration  time.Duration
}

// BudgetTracker accumulates usage against a Budget.
type BudgetTracker struct {
	mu        sync.Mutex
	budget    Budget
	tokens    int
	toolCalls int
	startedAt time.Time
	now       func() time.Time
}

// NewBudgetTracker starts a tracker against b, using now() for wall-clock
// comparisons so tests can supply a deterministic clock.
func NewBudgetTracker(b Budget, now func() time.Time) *BudgetTracker {
	if now == nil {
		now = time.Now
	}
	return &BudgetTracker{budget: b, startedAt: now(), now: now}
}

// Record adds the tokens and tool calls spent in one completed step.
func (bt *BudgetTracker) Record(tokens, toolCalls int) {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.tokens += tokens
	bt.toolCalls += toolCalls
}

// RecordToolCall adds one tool invocation.
func (bt *BudgetTracker) RecordToolCall() {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	bt.toolCalls++
}

// Exceeded returns a human-readable reason if any limit has been reached,
// or "" if the tracker is still within budget.
func (bt *BudgetTracker) Exceeded() string {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if bt.budget.MaxTokens > 0 && bt.tokens >= bt.budget.MaxTokens {
		return fmt.Sprintf("token limit reached (%d/%d)", bt.tokens, bt.budget.MaxTokens)
	}
	if bt.budget.MaxToolCalls > 0 && bt.toolCalls >= bt.budget.MaxToolCalls {
		return fmt.Sprintf("tool call limit reached (%d/%d)", bt.toolCalls, bt.budget.MaxToolCalls)
	}
	if bt.budget.MaxDuration > 0 && bt.now().Sub(bt.startedAt) >= bt.budget.MaxDuration {
		return fmt.Sprintf("duration limit reached (%s/%s)", bt.now().Sub(bt.startedAt).Round(time.Second), bt.budget.MaxDuration)
	}
	return ""
}
