package chat

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSessions returns a user's sessions, most recently updated first,
// without their threads.
func (r *Repo) ListSessions(ctx context.Context, userID uint64, limit int) ([]Session, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Session
	if err := r.db.WithContext(ctx).
		Omit("thread").
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListAllSessions returns every session of a user with threads, oldest first.
func (r *Repo) ListAllSessions(ctx context.Context, userID uint64) ([]Session, error) {
	var out []Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateMeta changes name and/or history limit. Nil fields are left alone.
func (r *Repo) UpdateMeta(ctx context.Context, sessionID string, name *string, historyLimit *int, at time.Time) error {
	updates := map[string]any{"updated_at": at}
	if name != nil {
		updates["name"] = *name
	}
	if historyLimit != nil {
		updates["history_limit"] = *historyLimit
	}
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReplaceThread writes the whole thread and the modification time in one
// statement, so a reader sees either the old thread or the new one.
func (r *Repo) ReplaceThread(ctx context.Context, sessionID string, thread Thread, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&Session{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]any{
			"thread":     thread,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) DeleteSession(ctx context.Context, sessionID string) error {
	res := r.db.WithContext(ctx).Where("session_id = ?", sessionID).Delete(&Session{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
