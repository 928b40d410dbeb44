package services

import (
	"time"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

// priorityMultiplier boosts routing scores so urgent chats land on agents
// with more headroom.
var priorityMultiplier = map[string]float64{
	models.PriorityUrgent: 1.5,
	models.PriorityHigh:   1.3,
	models.PriorityMedium: 1.0,
	models.PriorityLow:    0.8,
}

// AgentWorkload is one routing candidate: an agent plus their derived live
// workload. ActiveChats is always computed from the session records, never
// stored, so it cannot drift.
type AgentWorkload struct {
	Agent          models.User `json:"agent"`
	ActiveChats    int         `json:"current_active_chats"`
	AvailableSlots int         `json:"available_slots"`
	IsAtCapacity   bool        `json:"is_at_capacity"`
}

// SkillMatchScore is the fraction of required skills the agent has. An empty
// requirement matches every agent with score 1. A missing skill lowers the
// score but never excludes the agent; the match is a ranking signal, not a
// filter.
func SkillMatchScore(required []string, agentSkills []string) float64 {
	if len(required) == 0 {
		return 1
	}
	have := make(map[string]bool, len(agentSkills))
	for _, s := range agentSkills {
		have[s] = true
	}
	matched := 0
	for _, s := range required {
		if have[s] {
			matched++
		}
	}
	return float64(matched) / float64(len(required))
}

// RoutingScore ranks a candidate. Higher is better.
func RoutingScore(availableSlots int, skillMatch float64, activeChats int, priority string) float64 {
	score := float64(availableSlots) * 10

	// Perfect skill match is worth +50, partial matches proportionally less.
	score += skillMatch * 50

	// Lightly loaded agents get a bonus.
	if activeChats > 10 {
		activeChats = 10
	}
	score += float64(10-activeChats) * 2

	mult, ok := priorityMultiplier[priority]
	if !ok {
		mult = 1.0
	}
	return score * mult
}

// SelectAgent picks the best candidate for a pending chat, or nil when the
// pool is empty or everyone is at capacity. Candidates at capacity are
// excluded outright. Ties break on the lowest agent id so repeated calls with
// the same pool are deterministic.
//
// The function never mutates session or agent state; committing the
// assignment is the caller's job and is re-guarded at the store layer.
func SelectAgent(requiredSkills []string, priority string, pool []AgentWorkload) *AgentWorkload {
	var best *AgentWorkload
	var bestScore float64

	for i := range pool {
		candidate := &pool[i]
		if candidate.AvailableSlots <= 0 {
			continue
		}
		match := SkillMatchScore(requiredSkills, candidate.Agent.Skills)
		score := RoutingScore(candidate.AvailableSlots, match, candidate.ActiveChats, priority)

		switch {
		case best == nil, score > bestScore:
			best, bestScore = candidate, score
		case score == bestScore && candidate.Agent.ID < best.Agent.ID:
			best = candidate
		}
	}
	return best
}

// QueueEntry describes one pending session waiting for an agent.
type QueueEntry struct {
	SessionID uint      `json:"session_id"`
	WaitTime  int       `json:"wait_time"` // seconds since started_at
	Priority  string    `json:"priority"`
	StartedAt time.Time `json:"started_at"`
}

// QueueStats summarizes the pending queue for supervisors.
type QueueStats struct {
	TotalInQueue int            `json:"total_in_queue"`
	ByPriority   map[string]int `json:"by_priority"`
	Sessions     []QueueEntry   `json:"sessions"`
}

// BuildQueueStats derives queue statistics from the pending sessions as of
// now. Wait times are recomputed on every call; the stored wait_time is only
// written at assignment.
func BuildQueueStats(pending []models.ChatSession, now time.Time) QueueStats {
	stats := QueueStats{
		TotalInQueue: len(pending),
		ByPriority: map[string]int{
			models.PriorityUrgent: 0,
			models.PriorityHigh:   0,
			models.PriorityMedium: 0,
			models.PriorityLow:    0,
		},
		Sessions: make([]QueueEntry, 0, len(pending)),
	}
	for _, s := range pending {
		stats.ByPriority[s.Priority]++
		stats.Sessions = append(stats.Sessions, QueueEntry{
			SessionID: s.ID,
			WaitTime:  int(now.Sub(s.StartedAt).Seconds()),
			Priority:  s.Priority,
			StartedAt: s.StartedAt,
		})
	}
	return stats
}
