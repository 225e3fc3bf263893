package syncqueue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type Operation string

const (
	OpDelete Operation = "DELETE"
	OpUpdate Operation = "UPDATE"
	OpCreate Operation = "CREATE"
	OpMove   Operation = "MOVE"
	OpRename Operation = "RENAME"
)

// Priority orders pending work; lower runs first.
func (o Operation) Priority() int {
	switch o {
	case OpDelete:
		return 1
	case OpUpdate:
		return 2
	case OpCreate:
		return 3
	case OpMove:
		return 4
	default:
		return 5
	}
}

func ParseOperation(s string) (Operation, error) {
	op := Operation(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpDelete, OpUpdate, OpCreate, OpMove, OpRename:
		return op, nil
	}
	return "", fmt.Errorf("unknown sync operation %q", s)
}

// Entry asks the worker to reconcile one entity family after a mutation.
type Entry struct {
	EntityType string
	Operation  Operation
	EntityID   string
	OwnerID    uint64
	// Delay overrides the queue's settle delay. Ignored for DELETE.
	Delay time.Duration
}

func (e Entry) Family() Family {
	return Family{OwnerID: e.OwnerID, EntityType: e.EntityType}
}

// Family is the unit a fetch returns and the cache replaces: every entity of
// one type owned by one user.
type Family struct {
	OwnerID    uint64 `json:"owner_id"`
	EntityType string `json:"entity_type"`
}

func (f Family) String() string {
	return fmt.Sprintf("%d/%s", f.OwnerID, f.EntityType)
}

// Item is one authoritative record as seen by the cache.
type Item struct {
	ID         string          `json:"id"`
	ParentID   string          `json:"parent_id,omitempty"`
	EntityType string          `json:"entity_type"`
	Data       json.RawMessage `json:"data,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Notifier is implemented by anything that accepts sync entries: the
// in-process Queue or a message-broker publisher.
type Notifier interface {
	Notify(ctx context.Context, e Entry) error
}

// NopNotifier drops entries. Useful where sync is disabled.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Entry) error { return nil }
