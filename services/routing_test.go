package services

import (
	"testing"
	"time"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

func workload(id uint, skills []string, active, max int) AgentWorkload {
	return AgentWorkload{
		Agent: models.User{
			ID:                 id,
			Role:               models.RoleAgent,
			AvailabilityStatus: models.AgentOnline,
			Skills:             skills,
			MaxConcurrentChats: max,
		},
		ActiveChats:    active,
		AvailableSlots: max - active,
		IsAtCapacity:   active >= max,
	}
}

func TestSkillMatchScore(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		required []string
		skills   []string
		want     float64
	}{
		{"no requirements", nil, []string{"billing"}, 1},
		{"full match", []string{"billing"}, []string{"billing", "tech"}, 1},
		{"half match", []string{"billing", "spanish"}, []string{"billing"}, 0.5},
		{"no match", []string{"spanish"}, []string{"billing"}, 0},
		{"agent has no skills", []string{"billing"}, nil, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := SkillMatchScore(tt.required, tt.skills); got != tt.want {
				t.Errorf("SkillMatchScore(%v, %v) = %v, want %v", tt.required, tt.skills, got, tt.want)
			}
		})
	}
}

func TestRoutingScore(t *testing.T) {
	t.Parallel()

	// 3 slots, full skill match, 2 active chats, medium priority:
	// 3*10 + 1*50 + (10-2)*2 = 96.
	if got := RoutingScore(3, 1, 2, models.PriorityMedium); got != 96 {
		t.Errorf("medium score = %v, want 96", got)
	}
	if got := RoutingScore(3, 1, 2, models.PriorityUrgent); got != 96*1.5 {
		t.Errorf("urgent score = %v, want %v", got, 96*1.5)
	}
	if got := RoutingScore(3, 1, 2, models.PriorityLow); got != 96*0.8 {
		t.Errorf("low score = %v, want %v", got, 96*0.8)
	}
	// Unknown priority falls back to the medium multiplier.
	if got := RoutingScore(3, 1, 2, "???"); got != 96 {
		t.Errorf("unknown priority score = %v, want 96", got)
	}
	// The load bonus is clamped at 10 active chats.
	if got := RoutingScore(1, 0, 25, models.PriorityMedium); got != 10 {
		t.Errorf("overloaded score = %v, want 10", got)
	}
}

func TestSelectAgentPrefersSkillMatchOverHeadroom(t *testing.T) {
	t.Parallel()

	// The busier billing specialist beats the idle generalist: 96 vs 70.
	pool := []AgentWorkload{
		workload(1, []string{"billing", "tech"}, 2, 5),
		workload(2, nil, 0, 5),
	}
	pick := SelectAgent([]string{"billing"}, models.PriorityMedium, pool)
	if pick == nil || pick.Agent.ID != 1 {
		t.Fatalf("pick = %+v, want agent 1", pick)
	}
}

func TestSelectAgentExcludesAtCapacity(t *testing.T) {
	t.Parallel()

	pool := []AgentWorkload{
		workload(1, []string{"billing"}, 5, 5),
		workload(2, nil, 1, 5),
	}
	pick := SelectAgent([]string{"billing"}, models.PriorityUrgent, pool)
	if pick == nil || pick.Agent.ID != 2 {
		t.Fatalf("pick = %+v, want agent 2 (agent 1 is full)", pick)
	}
}

func TestSelectAgentEmptyOrSaturatedPool(t *testing.T) {
	t.Parallel()

	if pick := SelectAgent(nil, models.PriorityMedium, nil); pick != nil {
		t.Errorf("empty pool pick = %+v, want nil", pick)
	}

	pool := []AgentWorkload{
		workload(1, nil, 5, 5),
		workload(2, nil, 3, 3),
	}
	if pick := SelectAgent(nil, models.PriorityMedium, pool); pick != nil {
		t.Errorf("saturated pool pick = %+v, want nil", pick)
	}
}

func TestSelectAgentDeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// Identical candidates: the lowest agent id must win, regardless of
	// pool order.
	a := workload(7, []string{"tech"}, 1, 5)
	b := workload(3, []string{"tech"}, 1, 5)

	for i := 0; i < 10; i++ {
		pick := SelectAgent([]string{"tech"}, models.PriorityHigh, []AgentWorkload{a, b})
		if pick == nil || pick.Agent.ID != 3 {
			t.Fatalf("pick = %+v, want agent 3", pick)
		}
		pick = SelectAgent([]string{"tech"}, models.PriorityHigh, []AgentWorkload{b, a})
		if pick == nil || pick.Agent.ID != 3 {
			t.Fatalf("reversed pool pick = %+v, want agent 3", pick)
		}
	}
}

func TestBuildQueueStats(t *testing.T) {
	t.Parallel()

	now := time.Now()
	pending := []models.ChatSession{
		{ID: 1, Priority: models.PriorityUrgent, StartedAt: now.Add(-90 * time.Second)},
		{ID: 2, Priority: models.PriorityMedium, StartedAt: now.Add(-30 * time.Second)},
		{ID: 3, Priority: models.PriorityMedium, StartedAt: now.Add(-5 * time.Second)},
	}

	stats := BuildQueueStats(pending, now)
	if stats.TotalInQueue != 3 {
		t.Errorf("TotalInQueue = %d, want 3", stats.TotalInQueue)
	}
	if stats.ByPriority[models.PriorityUrgent] != 1 || stats.ByPriority[models.PriorityMedium] != 2 {
		t.Errorf("ByPriority = %v", stats.ByPriority)
	}
	if stats.ByPriority[models.PriorityLow] != 0 {
		t.Errorf("low count = %d, want 0", stats.ByPriority[models.PriorityLow])
	}
	if got := stats.Sessions[0].WaitTime; got != 90 {
		t.Errorf("session 1 wait = %d, want 90", got)
	}
}
