package workspace

import "time"

const (
	TypeNotes     = "notes"
	TypeFolders   = "folders"
	TypeClasseurs = "classeurs"
	TypeFiles     = "files"
)

var entityTypes = map[string]struct{}{
	TypeNotes:     {},
	TypeFolders:   {},
	TypeClasseurs: {},
	TypeFiles:     {},
}

func EntityTypes() []string {
	return []string{TypeNotes, TypeFolders, TypeClasseurs, TypeFiles}
}

func ValidEntityType(t string) bool {
	_, ok := entityTypes[t]
	return ok
}

// Item is a note, folder, classeur or file. Only the fields the sync
// pipeline needs are modelled.
type Item struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"-"`
	ItemID     string    `gorm:"type:varchar(26);uniqueIndex;not null" json:"id"`
	UserID     uint64    `gorm:"not null;index:idx_ws_user_type,priority:1" json:"-"`
	EntityType string    `gorm:"type:varchar(16);not null;index:idx_ws_user_type,priority:2" json:"entity_type"`
	ParentID   *string   `gorm:"type:varchar(26);index" json:"parent_id"`
	Title      string    `gorm:"type:varchar(255);not null" json:"title"`
	Content    string    `gorm:"type:text" json:"content"`
	Position   int       `gorm:"not null;default:0" json:"position"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (Item) TableName() string { return "workspace_items" }
