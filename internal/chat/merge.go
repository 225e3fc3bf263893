package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

const signatureSep = "|"

// MergeResult describes what a batch did to a thread. Thread is the full
// resulting history; it equals the input thread when nothing was applied.
type MergeResult struct {
	Applied            bool
	Messages           []Message
	DuplicatesFiltered int
	OperationID        string
	RelanceIndex       int
	Thread             Thread
}

// Merger appends candidate batches to a thread exactly once. It holds no
// state between calls; callers serialize merges per session.
type Merger struct {
	now   func() time.Time
	newID func() string
}

func NewMerger() *Merger {
	return &Merger{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

func (m *Merger) Merge(thread Thread, batch []CandidateMessage, d Descriptor) (MergeResult, error) {
	res := MergeResult{
		OperationID:  d.OperationID,
		RelanceIndex: d.RelanceIndex,
		Thread:       thread,
	}

	// 1. replay of an already applied submission. The descriptor alone decides;
	// an idempotency key is not required for the check.
	if d.OperationID != "" && alreadyApplied(thread, d) {
		res.DuplicatesFiltered = len(batch)
		return res, nil
	}

	// 2. + 3. duplicate tool results and re-emitted tool-call sets
	seenToolIDs := make(map[string]struct{})
	seenSigs := make(map[string]struct{})
	for _, msg := range thread {
		switch {
		case msg.Role == RoleTool && msg.ToolCallID != "":
			seenToolIDs[msg.ToolCallID] = struct{}{}
		case msg.Role == RoleAssistant && len(msg.ToolCalls) > 0:
			seenSigs[toolCallSignature(msg.ToolCalls)] = struct{}{}
		}
	}

	accepted := make([]int, 0, len(batch))
	for i, c := range batch {
		switch {
		case c.Role == RoleTool && c.ToolCallID != "":
			if _, dup := seenToolIDs[c.ToolCallID]; dup {
				res.DuplicatesFiltered++
				continue
			}
			seenToolIDs[c.ToolCallID] = struct{}{}
		case c.Role == RoleAssistant && len(c.ToolCalls) > 0:
			sig := toolCallSignature(c.ToolCalls)
			if _, dup := seenSigs[sig]; dup {
				res.DuplicatesFiltered++
				continue
			}
			seenSigs[sig] = struct{}{}
		}
		accepted = append(accepted, i)
	}

	// 4. tool messages must be complete, whether or not they were deduplicated
	if vs := validateToolMessages(batch); len(vs) > 0 {
		return MergeResult{}, &ValidationError{Violations: vs}
	}

	// 5.
	if len(accepted) == 0 {
		return res, nil
	}

	// 6. tagging
	now := m.now()
	added := make([]Message, 0, len(accepted))
	for _, i := range accepted {
		added = append(added, m.tag(batch[i], d, now))
	}

	// 7. append, then order the whole history by timestamp
	out := make(Thread, 0, len(thread)+len(added))
	out = append(out, thread...)
	out = append(out, added...)
	slices.SortStableFunc(out, func(a, b Message) int { return a.Timestamp.Compare(b.Timestamp) })

	res.Applied = true
	res.Messages = added
	res.Thread = out
	return res, nil
}

func alreadyApplied(thread Thread, d Descriptor) bool {
	for _, msg := range thread {
		if msg.OperationID == d.OperationID && msg.RelanceIndex != nil && *msg.RelanceIndex == d.RelanceIndex {
			return true
		}
	}
	return false
}

// toolCallSignature canonicalizes a tool-call set as sorted "id:name" pairs.
func toolCallSignature(calls []ToolCall) string {
	parts := make([]string, 0, len(calls))
	for _, tc := range calls {
		name := tc.Function.Name
		if name == "" {
			name = "unknown"
		}
		parts = append(parts, tc.ID+":"+name)
	}
	slices.Sort(parts)
	return strings.Join(parts, signatureSep)
}

func validateToolMessages(batch []CandidateMessage) []Violation {
	var vs []Violation
	for i, c := range batch {
		if c.Role != RoleTool {
			continue
		}
		if strings.TrimSpace(c.ToolCallID) == "" {
			vs = append(vs, Violation{Index: i, Field: "tool_call_id", Rule: "required", Message: "tool message needs tool_call_id"})
		}
		if strings.TrimSpace(c.toolName()) == "" {
			vs = append(vs, Violation{Index: i, Field: "name", Rule: "required", Message: "tool message needs name or tool_name"})
		}
		if c.Content == nil || strings.TrimSpace(*c.Content) == "" {
			vs = append(vs, Violation{Index: i, Field: "content", Rule: "required", Message: "tool message needs non-empty content"})
		}
	}
	return vs
}

func (m *Merger) tag(c CandidateMessage, d Descriptor, now time.Time) Message {
	ts := now
	if c.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, c.Timestamp); err == nil && !parsed.IsZero() {
			ts = parsed.UTC()
		}
	}

	msg := Message{
		ID:         m.newID(),
		Role:       c.Role,
		Content:    c.Content,
		Reasoning:  c.Reasoning,
		ToolCalls:  normalizeToolCalls(c.ToolCalls),
		ToolCallID: c.ToolCallID,
		Name:       c.Name,
		Timestamp:  ts,
		Success:    c.Success,
		Error:      c.Error,
		DurationMs: c.DurationMs,
	}
	if c.Role == RoleTool {
		msg.Name = c.toolName()
	}
	if d.OperationID != "" {
		ri := d.RelanceIndex
		msg.OperationID = d.OperationID
		msg.RelanceIndex = &ri
	}
	return msg
}

func normalizeToolCalls(calls []ToolCall) []ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]ToolCall, len(calls))
	for i, tc := range calls {
		if tc.Type == "" {
			tc.Type = "function"
		}
		out[i] = tc
	}
	return out
}
