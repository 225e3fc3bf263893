package chat

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
)

type Session struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID    string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID       uint64    `gorm:"index;not null" json:"-"`
	Name         string    `gorm:"type:varchar(255);not null" json:"name"`
	HistoryLimit int       `gorm:"not null;default:30" json:"history_limit"`
	Thread       Thread    `gorm:"type:longtext" json:"thread"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type Message struct {
	ID           string     `json:"id"`
	Role         string     `json:"role"`
	Content      *string    `json:"content"`
	Reasoning    string     `json:"reasoning,omitempty"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID   string     `json:"tool_call_id,omitempty"`
	Name         string     `json:"name,omitempty"`
	OperationID  string     `json:"operation_id,omitempty"`
	RelanceIndex *int       `json:"relance_index,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`

	// tool execution outcome, only meaningful for role=tool
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

// Thread is a session's full message history, stored as one JSON column so
// a merge result can be written with a single UPDATE.
type Thread []Message

func (t Thread) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *Thread) Scan(src any) error {
	var b []byte
	switch v := src.(type) {
	case nil:
		*t = Thread{}
		return nil
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("chat: cannot scan %T into Thread", src)
	}
	if len(b) == 0 {
		*t = Thread{}
		return nil
	}
	return json.Unmarshal(b, t)
}

// CandidateMessage is one message of an incoming batch, before tagging.
type CandidateMessage struct {
	Role       string     `json:"role"`
	Content    *string    `json:"content"`
	Reasoning  string     `json:"reasoning,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
	// ToolName is accepted as an alias of Name on tool messages.
	ToolName   string `json:"tool_name,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
}

func (c CandidateMessage) toolName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.ToolName
}

// Descriptor identifies one logical submission. Two batches with the same
// OperationID and RelanceIndex are the same submission.
type Descriptor struct {
	OperationID    string
	RelanceIndex   int
	IdempotencyKey string
}
