package rabbitmq

import (
	"encoding/json"
	"errors"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

// SyncMessage is the wire form of a syncqueue.Entry.
type SyncMessage struct {
	EntityType string `json:"entity_type"`
	Operation  string `json:"operation"`
	EntityID   string `json:"entity_id,omitempty"`
	OwnerID    uint64 `json:"owner_id"`
	DelayMs    int64  `json:"delay_ms,omitempty"`
}

const attemptsHeader = "x-sync-attempts"

func EncodeSyncMessage(e syncqueue.Entry) ([]byte, error) {
	return json.Marshal(SyncMessage{
		EntityType: e.EntityType,
		Operation:  string(e.Operation),
		EntityID:   e.EntityID,
		OwnerID:    e.OwnerID,
		DelayMs:    e.Delay.Milliseconds(),
	})
}

func DecodeSyncMessage(body []byte) (syncqueue.Entry, error) {
	var m SyncMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return syncqueue.Entry{}, err
	}
	if m.EntityType == "" || m.OwnerID == 0 {
		return syncqueue.Entry{}, errors.New("rabbitmq: sync message missing entity_type or owner_id")
	}
	op, err := syncqueue.ParseOperation(m.Operation)
	if err != nil {
		return syncqueue.Entry{}, err
	}
	return syncqueue.Entry{
		EntityType: m.EntityType,
		Operation:  op,
		EntityID:   m.EntityID,
		OwnerID:    m.OwnerID,
		Delay:      time.Duration(m.DelayMs) * time.Millisecond,
	}, nil
}

// Attempts reads how many times a delivery has been through the retry queue.
func Attempts(h amqp.Table) int {
	switch v := h[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

func formatExpiration(ttl time.Duration) string {
	return strconv.FormatInt(ttl.Milliseconds(), 10)
}
