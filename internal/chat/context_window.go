package chat

import (
	"context"

	openai "github.com/sashabaranov/go-openai"
)

// ContextWindow returns the tail of a session's thread shaped for a chat
// completion request. The stored thread is never trimmed; only this view is.
func (s *Service) ContextWindow(ctx context.Context, userID uint64, sessionID string) ([]openai.ChatCompletionMessage, error) {
	sess, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	limit := sess.HistoryLimit
	if limit <= 0 {
		limit = s.contextWindowSize
	}
	return BuildContextWindow(sess.Thread, limit), nil
}

// BuildContextWindow keeps the last limit messages (ASC, oldest -> newest)
// and drops tool results whose originating assistant call fell outside the
// window, since providers reject orphaned tool messages.
func BuildContextWindow(thread Thread, limit int) []openai.ChatCompletionMessage {
	start := 0
	if limit > 0 && len(thread) > limit {
		start = len(thread) - limit
	}
	window := thread[start:]

	calls := make(map[string]struct{})
	for _, m := range window {
		for _, tc := range m.ToolCalls {
			calls[tc.ID] = struct{}{}
		}
	}

	out := make([]openai.ChatCompletionMessage, 0, len(window))
	for _, m := range window {
		if m.Role == RoleTool {
			if _, ok := calls[m.ToolCallID]; !ok {
				continue
			}
		}
		out = append(out, toProviderMessage(m))
	}
	return out
}

func toProviderMessage(m Message) openai.ChatCompletionMessage {
	pm := openai.ChatCompletionMessage{
		Role:       m.Role,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	if m.Content != nil {
		pm.Content = *m.Content
	}
	for _, tc := range m.ToolCalls {
		pm.ToolCalls = append(pm.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return pm
}
