package agentloop

import (
	"fmt"
	"strings"
	"time"

	"github.com/etjones22/workshop/internal/convo"
)

// toolCallAssembler merges streamed tool-call deltas into slots: an
// explicit delta.index picks the slot directly; absent that, a matching
// delta.id reuses an existing slot; otherwise a new slot is appended.
// Assembling deltas from any interleaving consistent with per-slot order
// yields the same final {id, name, argumentsJson} per slot.
type toolCallAssembler struct {
	slots []*pendingToolCall
	now   func() time.Time
}

type pendingToolCall struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler(now func() time.Time) *toolCallAssembler {
	if now == nil {
		now = time.Now
	}
	return &toolCallAssembler{now: now}
}

func (a *toolCallAssembler) merge(delta convo.ToolCallDelta) {
	idx, isNew := a.resolveSlot(delta)

	if isNew {
		id := delta.ID
		if id == "" {
			id = fmt.Sprintf("call_%d_%d", a.now().UnixNano(), idx)
		}
		a.slots[idx].id = id
		a.slots[idx].name = delta.Name
	} else {
		slot := a.slots[idx]
		if delta.ID != "" {
			slot.id = delta.ID
		}
		if delta.Name != "" {
			slot.name = delta.Name
		}
	}

	if delta.ArgumentsChunk != "" {
		a.slots[idx].args.WriteString(delta.ArgumentsChunk)
	}
}

// resolveSlot implements the index -> id-match -> append fallback chain.
// isNew reports whether the returned slot was just created by this call
// (including padding slots created to reach an explicit out-of-range index)
// so merge can decide whether to synthesize an id.
func (a *toolCallAssembler) resolveSlot(delta convo.ToolCallDelta) (idx int, isNew bool) {
	if delta.Index != nil {
		idx := *delta.Index
		for len(a.slots) <= idx {
			a.slots = append(a.slots, &pendingToolCall{})
		}
		return idx, a.slots[idx].id == "" && a.slots[idx].name == ""
	}
	if delta.ID != "" {
		for i, s := range a.slots {
			if s.id == delta.ID {
				return i, false
			}
		}
	}
	a.slots = append(a.slots, &pendingToolCall{})
	return len(a.slots) - 1, true
}

func (a *toolCallAssembler) finalize() []convo.ToolCall {
	out := make([]convo.ToolCall, 0, len(a.slots))
	for _, s := range a.slots {
		out = append(out, convo.ToolCall{ID: s.id, Name: s.name, ArgumentsJSON: s.args.String()})
	}
	return out
}
