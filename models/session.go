package models

import (
	"time"

	"gorm.io/datatypes"
)

// Session lifecycle. A session is created pending, becomes active when an
// agent is assigned and is permanently inert once closed. A pending session
// may close without ever being assigned (abandoned).
const (
	SessionPending = "pending"
	SessionActive  = "active"
	SessionClosed  = "closed"
)

// Queue priorities. Priority affects routing score and queue ordering only;
// it never drops a session.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidPriority reports whether p is a known queue priority.
func ValidPriority(p string) bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// TransferRecord is one entry of a session's append-only transfer history.
type TransferRecord struct {
	FromAgentID   *uint     `json:"from_agent_id"`
	ToAgentID     uint      `json:"to_agent_id"`
	TransferredAt time.Time `json:"transferred_at"`
	Reason        string    `json:"reason,omitempty"`
	TransferredBy uint      `json:"transferred_by"`
}

type ChatSession struct {
	ID         uint   `json:"id" gorm:"primaryKey"`
	CustomerID uint   `json:"customer_id" gorm:"index;not null"`
	AgentID    *uint  `json:"agent_id" gorm:"index"` // null until assigned
	Status     string `json:"status" gorm:"default:'pending';index"`
	Priority   string `json:"priority" gorm:"default:'medium'"`

	// Skill tags the routing engine matches against agent skills. Empty
	// means any agent can take the chat.
	RequiredSkills datatypes.JSONSlice[string] `json:"required_skills"`

	Subject  string            `json:"subject"`
	Source   string            `json:"source,omitempty"`
	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	StartedAt     time.Time  `json:"started_at"`
	AssignedAt    *time.Time `json:"assigned_at"`
	EndedAt       *time.Time `json:"ended_at"`
	LastMessageAt *time.Time `json:"last_message_at"`

	// Per-role read receipts. Purely informational, no delivery semantics.
	CustomerLastSeenMessageID *uint `json:"customer_last_seen_message_id"`
	AgentLastSeenMessageID    *uint `json:"agent_last_seen_message_id"`

	// Seconds spent in queue, computed once at assignment and immutable after.
	WaitTime int `json:"wait_time"`

	// Append-only audit of reassignments. Entries are never mutated or reordered.
	TransferHistory datatypes.JSONSlice[TransferRecord] `json:"transfer_history"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Participant reports whether the user may act on this session: the owning
// customer, the currently assigned agent, or any admin.
func (s *ChatSession) Participant(u *User) bool {
	if u.Role == RoleAdmin {
		return true
	}
	if s.CustomerID == u.ID {
		return true
	}
	return s.AgentID != nil && *s.AgentID == u.ID
}
