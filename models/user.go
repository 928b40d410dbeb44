package models

import (
	"time"

	"gorm.io/datatypes"
)

// Roles a verified principal can carry. Identity issuance lives in the
// external auth service; this backend only trusts the role baked into the token.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
	RoleAdmin    = "admin"
)

// Agent availability states.
const (
	AgentOnline  = "online"
	AgentOffline = "offline"
	AgentBusy    = "busy"
	AgentAway    = "away"
)

// Account states.
const (
	AccountActive  = "active"
	AccountBlocked = "blocked"
)

type User struct {
	ID     uint   `json:"id" gorm:"primaryKey"`
	Name   string `json:"name"`
	Email  string `json:"email" gorm:"uniqueIndex"`
	Role   string `json:"role" gorm:"index"`              // customer, agent, admin
	Status string `json:"status" gorm:"default:'active'"` // active, blocked

	// Agent-only fields, ignored for customers.
	AvailabilityStatus string                      `json:"availability_status" gorm:"default:'offline'"` // online, offline, busy, away
	MaxConcurrentChats int                         `json:"max_concurrent_chats" gorm:"default:5"`
	Skills             datatypes.JSONSlice[string] `json:"skills"`
	LastActivityAt     *time.Time                  `json:"last_activity_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ValidAvailabilityStatus reports whether s is one of the four agent states.
func ValidAvailabilityStatus(s string) bool {
	switch s {
	case AgentOnline, AgentOffline, AgentBusy, AgentAway:
		return true
	}
	return false
}
