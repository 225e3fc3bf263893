package workspace

import (
	"context"
	"encoding/json"

	"github.com/suPer8Hu/notes-ai-platform/internal/syncqueue"
	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, it *Item) error {
	return r.db.WithContext(ctx).Create(it).Error
}

func (r *Repo) Get(ctx context.Context, entityType, itemID string) (*Item, error) {
	var it Item
	if err := r.db.WithContext(ctx).
		Where("item_id = ? AND entity_type = ?", itemID, entityType).
		First(&it).Error; err != nil {
		return nil, err
	}
	return &it, nil
}

// ListFamily returns every item of one type owned by userID, in display order.
func (r *Repo) ListFamily(ctx context.Context, userID uint64, entityType string) ([]Item, error) {
	var out []Item
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND entity_type = ?", userID, entityType).
		Order("position ASC").
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) Update(ctx context.Context, itemID string, updates map[string]any) error {
	res := r.db.WithContext(ctx).Model(&Item{}).Where("item_id = ?", itemID).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, itemID string) error {
	res := r.db.WithContext(ctx).Where("item_id = ?", itemID).Delete(&Item{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

type itemData struct {
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	Position int    `json:"position"`
}

// FetchFamily returns the authoritative snapshot for a family.
// It satisfies syncqueue.Fetcher.
func (r *Repo) FetchFamily(ctx context.Context, fam syncqueue.Family) ([]syncqueue.Item, error) {
	if !ValidEntityType(fam.EntityType) {
		return nil, syncqueue.Permanent(syncqueue.ErrUnknownEntityType)
	}
	rows, err := r.ListFamily(ctx, fam.OwnerID, fam.EntityType)
	if err != nil {
		return nil, err
	}
	out := make([]syncqueue.Item, 0, len(rows))
	for _, it := range rows {
		data, err := json.Marshal(itemData{Title: it.Title, Content: it.Content, Position: it.Position})
		if err != nil {
			return nil, err
		}
		si := syncqueue.Item{
			ID:         it.ItemID,
			EntityType: it.EntityType,
			Data:       data,
			UpdatedAt:  it.UpdatedAt,
		}
		if it.ParentID != nil {
			si.ParentID = *it.ParentID
		}
		out = append(out, si)
	}
	return out, nil
}
