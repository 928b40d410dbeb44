package models

import "time"

// SenderSystem marks messages emitted by the backend itself, e.g. the
// transfer audit line. System messages have no sender id.
const SenderSystem = "system"

// Message types. text and system carry content, file carries an attachment
// URL, kb_article references a knowledge-base article by id.
const (
	MessageText      = "text"
	MessageFile      = "file"
	MessageKBArticle = "kb_article"
	MessageSystem    = "system"
)

// ChatMessage is one immutable event in a session's timeline. Ordering is by
// the autoincrement id, which is strictly monotonic per session.
type ChatMessage struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	SessionID  uint   `json:"session_id" gorm:"index;not null"`
	SenderID   *uint  `json:"sender_id"` // null for system messages
	SenderRole string `json:"sender_role"`
	Type       string `json:"type" gorm:"default:'text'"`

	Content       string `json:"content,omitempty" gorm:"type:text"`
	AttachmentURL string `json:"attachment_url,omitempty"`
	KBArticleID   *uint  `json:"kb_article_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the payload shape against the message type. Attachment and
// article contents are provided by external services; only presence is checked.
func (m *ChatMessage) Validate() bool {
	switch m.Type {
	case MessageText, MessageSystem:
		return m.Content != ""
	case MessageFile:
		return m.AttachmentURL != ""
	case MessageKBArticle:
		return m.KBArticleID != nil
	}
	return false
}
