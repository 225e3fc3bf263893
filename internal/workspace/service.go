package workspace

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/suPer8Hu/notes-ai-platform/internal/common"
	"github.com/suPer8Hu/notes-ai-platform/internal/logger"
	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
	"gorm.io/gorm"
)

var (
	ErrItemNotFound      = errors.New("workspace: item not found")
	ErrInvalidEntityType = errors.New("workspace: unknown entity type")
	ErrInvalidInput      = errors.New("workspace: invalid input")
)

type Service struct {
	repo     *Repo
	notifier syncqueue.Notifier
}

func NewService(repo *Repo, notifier syncqueue.Notifier) *Service {
	if notifier == nil {
		notifier = syncqueue.NopNotifier{}
	}
	return &Service{repo: repo, notifier: notifier}
}

type CreateInput struct {
	Title    string  `json:"title"`
	Content  string  `json:"content"`
	ParentID *string `json:"parent_id"`
	Position int     `json:"position"`
}

type UpdateInput struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	Position *int    `json:"position"`
}

func (s *Service) Create(ctx context.Context, userID uint64, entityType string, in CreateInput) (*Item, error) {
	if !ValidEntityType(entityType) {
		return nil, ErrInvalidEntityType
	}
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	it := &Item{
		ItemID:     id,
		UserID:     userID,
		EntityType: entityType,
		ParentID:   in.ParentID,
		Title:      title,
		Content:    in.Content,
		Position:   in.Position,
	}
	if err := s.repo.Create(ctx, it); err != nil {
		return nil, err
	}
	s.notify(ctx, userID, entityType, syncqueue.OpCreate, id)
	return it, nil
}

func (s *Service) Get(ctx context.Context, userID uint64, entityType, itemID string) (*Item, error) {
	if !ValidEntityType(entityType) {
		return nil, ErrInvalidEntityType
	}
	it, err := s.repo.Get(ctx, entityType, itemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}
	// someone else's item looks exactly like a missing one
	if it.UserID != userID {
		return nil, ErrItemNotFound
	}
	return it, nil
}

func (s *Service) List(ctx context.Context, userID uint64, entityType string) ([]Item, error) {
	if !ValidEntityType(entityType) {
		return nil, ErrInvalidEntityType
	}
	return s.repo.ListFamily(ctx, userID, entityType)
}

func (s *Service) Update(ctx context.Context, userID uint64, entityType, itemID string, in UpdateInput) (*Item, error) {
	it, err := s.Get(ctx, userID, entityType, itemID)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{}
	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, fmt.Errorf("%w: title must not be empty", ErrInvalidInput)
		}
		updates["title"] = title
		it.Title = title
	}
	if in.Content != nil {
		updates["content"] = *in.Content
		it.Content = *in.Content
	}
	if in.Position != nil {
		updates["position"] = *in.Position
		it.Position = *in.Position
	}
	if len(updates) == 0 {
		return it, nil
	}
	if err := s.repo.Update(ctx, itemID, updates); err != nil {
		return nil, err
	}

	op := syncqueue.OpUpdate
	if _, renamed := updates["title"]; renamed && len(updates) == 1 {
		op = syncqueue.OpRename
	}
	s.notify(ctx, userID, entityType, op, itemID)
	return it, nil
}

// Move re-parents an item. A nil parent moves it to the root.
func (s *Service) Move(ctx context.Context, userID uint64, entityType, itemID string, parentID *string) (*Item, error) {
	it, err := s.Get(ctx, userID, entityType, itemID)
	if err != nil {
		return nil, err
	}
	if parentID != nil && *parentID == itemID {
		return nil, fmt.Errorf("%w: item cannot be its own parent", ErrInvalidInput)
	}
	if err := s.repo.Update(ctx, itemID, map[string]any{"parent_id": parentID}); err != nil {
		return nil, err
	}
	it.ParentID = parentID
	s.notify(ctx, userID, entityType, syncqueue.OpMove, itemID)
	return it, nil
}

func (s *Service) Delete(ctx context.Context, userID uint64, entityType, itemID string) error {
	if _, err := s.Get(ctx, userID, entityType, itemID); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, itemID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrItemNotFound
		}
		return err
	}
	s.notify(ctx, userID, entityType, syncqueue.OpDelete, itemID)
	return nil
}

func (s *Service) notify(ctx context.Context, userID uint64, entityType string, op syncqueue.Operation, itemID string) {
	err := s.notifier.Notify(ctx, syncqueue.Entry{
		EntityType: entityType,
		Operation:  op,
		EntityID:   itemID,
		OwnerID:    userID,
	})
	if err != nil {
		logger.FromContext(ctx).Warn("sync notify failed",
			"entity_type", entityType, "operation", op, "entity_id", itemID, "err", err)
	}
}
