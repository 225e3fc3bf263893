package chat

import (
	"context"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

func TestBuildContextWindow_TrimsAndDropsOrphans(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	thread := Thread{
		{ID: "1", Role: RoleUser, Content: text("make a note"), Timestamp: base},
		{ID: "2", Role: RoleAssistant, ToolCalls: []ToolCall{call("c1", "create_note")}, Timestamp: base.Add(time.Second)},
		{ID: "3", Role: RoleTool, ToolCallID: "c1", Name: "create_note", Content: text("ok"), Timestamp: base.Add(2 * time.Second)},
		{ID: "4", Role: RoleAssistant, Content: text("done"), Timestamp: base.Add(3 * time.Second)},
		{ID: "5", Role: RoleUser, Content: text("thanks"), Timestamp: base.Add(4 * time.Second)},
	}

	got := BuildContextWindow(thread, 3)
	// the tool result lost its assistant call, so only two messages remain
	require.Len(t, got, 2)
	require.Equal(t, "done", got[0].Content)
	require.Equal(t, openai.ChatMessageRoleUser, got[1].Role)

	full := BuildContextWindow(thread, 0)
	require.Len(t, full, 5)
	require.Equal(t, openai.ToolTypeFunction, full[1].ToolCalls[0].Type)
	require.Equal(t, "create_note", full[1].ToolCalls[0].Function.Name)
	require.Equal(t, "c1", full[2].ToolCallID)
}

func TestContextWindow_UsesSessionHistoryLimit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.CreateSession(ctx, 1, "", 2)
	require.NoError(t, err)
	_, err = svc.AppendBatch(ctx, 1, sess.SessionID, []CandidateMessage{
		{Role: RoleUser, Content: text("one"), Timestamp: "2025-01-01T00:00:01Z"},
		{Role: RoleAssistant, Content: text("two"), Timestamp: "2025-01-01T00:00:02Z"},
		{Role: RoleUser, Content: text("three"), Timestamp: "2025-01-01T00:00:03Z"},
	}, Descriptor{OperationID: "op1"})
	require.NoError(t, err)

	msgs, err := svc.ContextWindow(ctx, 1, sess.SessionID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "two", msgs[0].Content)
	require.Equal(t, "three", msgs[1].Content)

	_, err = svc.ContextWindow(ctx, 9, sess.SessionID)
	require.ErrorIs(t, err, ErrForbidden)
}
