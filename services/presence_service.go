package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

const onlineAgentsKey = "chat:agents:online"

// PresenceService maintains availability_status and last_activity_at for
// agents. Every status mutation refreshes the activity timestamp in the same
// statement so external idle detection has a reliable signal. A redis hash
// mirrors the set of currently connected agents; the database stays the
// system of record.
type PresenceService struct {
	db    *gorm.DB
	redis *redis.Client // optional, nil disables the mirror
}

func NewPresenceService(db *gorm.DB, redisClient *redis.Client) *PresenceService {
	return &PresenceService{db: db, redis: redisClient}
}

func (s *PresenceService) GetAgent(ctx context.Context, agentID uint) (*models.User, error) {
	var agent models.User
	if err := s.db.WithContext(ctx).First(&agent, agentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAgentNotFound
		}
		return nil, err
	}
	if agent.Role != models.RoleAgent {
		return nil, ErrAgentNotFound
	}
	return &agent, nil
}

// SetAvailability forces the agent's status and refreshes last_activity_at
// atomically. Used by manual updates, connect (online) and disconnect
// (offline).
func (s *PresenceService) SetAvailability(ctx context.Context, agentID uint, status string) (*models.User, error) {
	if !models.ValidAvailabilityStatus(status) {
		return nil, ErrInvalidStatus
	}
	res := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ? AND role = ?", agentID, models.RoleAgent).
		Updates(map[string]interface{}{
			"availability_status": status,
			"last_activity_at":    time.Now(),
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrAgentNotFound
	}
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	s.mirrorPresence(ctx, agent)
	return agent, nil
}

// HandleConnect fires when an agent's first live connection opens.
func (s *PresenceService) HandleConnect(ctx context.Context, agentID uint) (*models.User, error) {
	return s.SetAvailability(ctx, agentID, models.AgentOnline)
}

// HandleDisconnect fires when an agent's last live connection closes.
func (s *PresenceService) HandleDisconnect(ctx context.Context, agentID uint) (*models.User, error) {
	return s.SetAvailability(ctx, agentID, models.AgentOffline)
}

// ActivityPing handles the periodic client heartbeat. An away agent is
// promoted back to online (changed=true, caller broadcasts); otherwise only
// the activity timestamp moves, with no broadcast, to avoid redundant
// chatter.
func (s *PresenceService) ActivityPing(ctx context.Context, agentID uint) (*models.User, bool, error) {
	agent, err := s.GetAgent(ctx, agentID)
	if err != nil {
		return nil, false, err
	}
	if agent.AvailabilityStatus == models.AgentAway {
		agent, err = s.SetAvailability(ctx, agentID, models.AgentOnline)
		if err != nil {
			return nil, false, err
		}
		return agent, true, nil
	}
	err = s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", agentID).
		Update("last_activity_at", time.Now()).Error
	if err != nil {
		return nil, false, err
	}
	return agent, false, nil
}

func (s *PresenceService) UpdateSkills(ctx context.Context, agentID uint, skills []string) (*models.User, error) {
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", agentID).
		Update("skills", datatypes.JSONSlice[string](skills)).Error
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, agentID)
}

func (s *PresenceService) UpdateMaxConcurrentChats(ctx context.Context, agentID uint, max int) (*models.User, error) {
	if max < 1 || max > 50 {
		return nil, fmt.Errorf("%w: max_concurrent_chats must be between 1 and 50", ErrInvalidStatus)
	}
	if _, err := s.GetAgent(ctx, agentID); err != nil {
		return nil, err
	}
	err := s.db.WithContext(ctx).Model(&models.User{}).
		Where("id = ?", agentID).
		Update("max_concurrent_chats", max).Error
	if err != nil {
		return nil, err
	}
	return s.GetAgent(ctx, agentID)
}

// PresenceEntry is what the redis mirror stores per connected agent.
type PresenceEntry struct {
	AgentID uint   `json:"agent_id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Status  string `json:"status"`
}

func (s *PresenceService) mirrorPresence(ctx context.Context, agent *models.User) {
	if s.redis == nil {
		return
	}
	field := fmt.Sprintf("%d", agent.ID)
	if agent.AvailabilityStatus == models.AgentOffline {
		if err := s.redis.HDel(ctx, onlineAgentsKey, field).Err(); err != nil {
			log.Printf("presence: failed to remove agent %d from redis: %v", agent.ID, err)
		}
		return
	}
	data, err := json.Marshal(PresenceEntry{
		AgentID: agent.ID,
		Name:    agent.Name,
		Email:   agent.Email,
		Status:  agent.AvailabilityStatus,
	})
	if err != nil {
		log.Printf("presence: failed to marshal agent %d: %v", agent.ID, err)
		return
	}
	if err := s.redis.HSet(ctx, onlineAgentsKey, field, data).Err(); err != nil {
		log.Printf("presence: failed to mirror agent %d to redis: %v", agent.ID, err)
		return
	}
	s.redis.Expire(ctx, onlineAgentsKey, 24*time.Hour)
}

// ConnectedAgents reads the redis presence mirror. Cheap "who is on right
// now" lookup for dashboards; the database remains authoritative.
func (s *PresenceService) ConnectedAgents(ctx context.Context) ([]PresenceEntry, error) {
	if s.redis == nil {
		return nil, nil
	}
	result, err := s.redis.HGetAll(ctx, onlineAgentsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch connected agents: %w", err)
	}
	entries := make([]PresenceEntry, 0, len(result))
	for _, raw := range result {
		var entry PresenceEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			log.Printf("presence: failed to unmarshal entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
