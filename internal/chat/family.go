package chat

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
)

type sessionSummary struct {
	Name         string `json:"name"`
	HistoryLimit int    `json:"history_limit"`
	MessageCount int    `json:"message_count"`
}

// FetchFamily returns the authoritative snapshot of a user's chat sessions.
// It satisfies syncqueue.Fetcher.
func (r *Repo) FetchFamily(ctx context.Context, fam syncqueue.Family) ([]syncqueue.Item, error) {
	sessions, err := r.ListAllSessions(ctx, fam.OwnerID)
	if err != nil {
		return nil, err
	}
	items := make([]syncqueue.Item, 0, len(sessions))
	for _, s := range sessions {
		data, err := json.Marshal(sessionSummary{
			Name:         s.Name,
			HistoryLimit: s.HistoryLimit,
			MessageCount: len(s.Thread),
		})
		if err != nil {
			return nil, err
		}
		items = append(items, syncqueue.Item{
			ID:         s.SessionID,
			EntityType: EntityType,
			Data:       data,
			UpdatedAt:  s.UpdatedAt,
		})
	}
	return items, nil
}
