package models

import (
	"time"

	"gorm.io/datatypes"
)

// CannedResponse is a reusable reply template for agents. Content may embed
// {{variable}} placeholders that are substituted at send time.
type CannedResponse struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	Title       string `json:"title" gorm:"not null"`
	Content     string `json:"content" gorm:"type:text;not null"`
	Category    string `json:"category,omitempty"`
	ShortcutKey string `json:"shortcut_key,omitempty" gorm:"uniqueIndex"`

	// Shared responses are usable by every agent, private ones only by
	// their creator.
	IsShared  bool `json:"is_shared" gorm:"default:false"`
	CreatedBy uint `json:"created_by" gorm:"index;not null"`

	Variables  datatypes.JSONSlice[string] `json:"variables"`
	UsageCount int                         `json:"usage_count" gorm:"default:0"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// UsableBy reports whether the agent may use this response.
func (r *CannedResponse) UsableBy(agentID uint) bool {
	return r.IsShared || r.CreatedBy == agentID
}
