package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

// Domain outcomes. These are expected results of a rejected command, reported
// to the caller as structured errors; a rejected command never mutates state.
var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrAgentNotFound    = errors.New("agent not found")
	ErrMessageNotFound  = errors.New("message not found in this session")
	ErrAlreadyAssigned  = errors.New("session already assigned")
	ErrSessionClosed    = errors.New("session is closed")
	ErrSessionNotActive = errors.New("session is not active")
	ErrAgentAtCapacity  = errors.New("target agent is at maximum capacity")
	ErrAgentUnavailable = errors.New("agent is not available")
	ErrNotParticipant   = errors.New("not a participant of this session")
	ErrNotSessionAgent  = errors.New("only the assigned agent or an admin can do this")
	ErrInvalidMessage   = errors.New("invalid message payload")
	ErrInvalidStatus    = errors.New("invalid availability status")
	ErrInvalidPriority  = errors.New("invalid priority")
)

// SessionService owns chat session and message records. All lifecycle
// transitions (assign, transfer, close) run as a single transaction with a
// conditional update on status, so concurrent commands on the same session
// linearize at the database and exactly one writer wins.
type SessionService struct {
	db *gorm.DB
}

func NewSessionService(db *gorm.DB) *SessionService {
	return &SessionService{db: db}
}

func (s *SessionService) CreateSession(ctx context.Context, session *models.ChatSession) error {
	if session.Priority == "" {
		session.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(session.Priority) {
		return ErrInvalidPriority
	}
	session.Status = models.SessionPending
	if session.StartedAt.IsZero() {
		session.StartedAt = time.Now()
	}
	if err := s.db.WithContext(ctx).Create(session).Error; err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *SessionService) GetSession(ctx context.Context, id uint) (*models.ChatSession, error) {
	var session models.ChatSession
	if err := s.db.WithContext(ctx).First(&session, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &session, nil
}

func (s *SessionService) CustomerSessions(ctx context.Context, customerID uint) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("started_at DESC").
		Find(&sessions).Error
	return sessions, err
}

func (s *SessionService) AgentSessions(ctx context.Context, agentID uint, status string) ([]models.ChatSession, error) {
	q := s.db.WithContext(ctx).Where("agent_id = ?", agentID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []models.ChatSession
	err := q.Order("started_at DESC").Find(&sessions).Error
	return sessions, err
}

func (s *SessionService) AllSessions(ctx context.Context, status string) ([]models.ChatSession, error) {
	q := s.db.WithContext(ctx)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var sessions []models.ChatSession
	err := q.Order("started_at DESC").Find(&sessions).Error
	return sessions, err
}

// PendingSessions returns the queue in service order: urgent first, then
// oldest first within a priority.
func (s *SessionService) PendingSessions(ctx context.Context) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SessionPending).
		Order("CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'medium' THEN 2 ELSE 3 END, started_at ASC").
		Find(&sessions).Error
	return sessions, err
}

func (s *SessionService) SessionMessages(ctx context.Context, sessionID uint, limit, offset int) ([]models.ChatMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var messages []models.ChatMessage
	err := s.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Limit(limit).Offset(offset).
		Find(&messages).Error
	return messages, err
}

// AssignAgent commits the pending->active transition. The whole guard runs in
// one transaction: the target agent row is locked, availability and derived
// capacity are verified, and the status flip is a conditional update. When two
// agents accept the same session concurrently, exactly one update matches the
// pending row; the loser gets ErrAlreadyAssigned.
func (s *SessionService) AssignAgent(ctx context.Context, sessionID, agentID uint) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var agent models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&agent, agentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAgentNotFound
		}
		if err != nil {
			return err
		}
		// Offline, away, busy or blocked agents are never eligible,
		// regardless of their capacity numbers.
		if agent.Role != models.RoleAgent || agent.Status != models.AccountActive ||
			agent.AvailabilityStatus != models.AgentOnline {
			return ErrAgentUnavailable
		}

		var active int64
		if err := tx.Model(&models.ChatSession{}).
			Where("agent_id = ? AND status = ?", agentID, models.SessionActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(agent.MaxConcurrentChats) {
			return ErrAgentAtCapacity
		}

		if err := tx.First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		if session.Status == models.SessionClosed {
			return ErrSessionClosed
		}

		now := time.Now()
		waitTime := int(now.Sub(session.StartedAt).Seconds())
		res := tx.Model(&models.ChatSession{}).
			Where("id = ? AND status = ?", sessionID, models.SessionPending).
			Updates(map[string]interface{}{
				"agent_id":    agentID,
				"status":      models.SessionActive,
				"assigned_at": now,
				"wait_time":   waitTime,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyAssigned
		}
		return tx.First(&session, sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// TransferAgent reassigns an active session and appends the audit record, as
// one atomic unit with the target-agent capacity check. The system message
// recording the transfer is written in the same transaction and returned for
// fan-out.
func (s *SessionService) TransferAgent(ctx context.Context, sessionID, toAgentID uint, reason string, requestedBy uint) (*models.ChatSession, *models.ChatMessage, error) {
	var (
		session models.ChatSession
		sysMsg  models.ChatMessage
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target models.User
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&target, toAgentID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrAgentNotFound
		}
		if err != nil {
			return err
		}
		if target.Role != models.RoleAgent || target.Status != models.AccountActive {
			return ErrAgentUnavailable
		}

		var active int64
		if err := tx.Model(&models.ChatSession{}).
			Where("agent_id = ? AND status = ?", toAgentID, models.SessionActive).
			Count(&active).Error; err != nil {
			return err
		}
		if active >= int64(target.MaxConcurrentChats) {
			return ErrAgentAtCapacity
		}

		if err := tx.First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		switch session.Status {
		case models.SessionClosed:
			return ErrSessionClosed
		case models.SessionActive:
		default:
			return ErrSessionNotActive
		}

		now := time.Now()
		fromAgentID := session.AgentID
		history := append(session.TransferHistory, models.TransferRecord{
			FromAgentID:   fromAgentID,
			ToAgentID:     toAgentID,
			TransferredAt: now,
			Reason:        reason,
			TransferredBy: requestedBy,
		})

		res := tx.Model(&models.ChatSession{}).
			Where("id = ? AND status = ?", sessionID, models.SessionActive).
			Updates(map[string]interface{}{
				"agent_id":         toAgentID,
				"assigned_at":      now,
				"transfer_history": history,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionNotActive
		}

		content := fmt.Sprintf("Chat transferred from agent %d to agent %d", derefAgentID(fromAgentID), toAgentID)
		if reason != "" {
			content += ": " + reason
		}
		sysMsg = models.ChatMessage{
			SessionID:  sessionID,
			SenderID:   nil,
			SenderRole: models.SenderSystem,
			Type:       models.MessageSystem,
			Content:    content,
		}
		if err := tx.Create(&sysMsg).Error; err != nil {
			return err
		}
		if err := tx.Model(&models.ChatSession{}).
			Where("id = ?", sessionID).
			Update("last_message_at", now).Error; err != nil {
			return err
		}
		return tx.First(&session, sessionID).Error
	})
	if err != nil {
		return nil, nil, err
	}
	return &session, &sysMsg, nil
}

// CloseSession commits the terminal transition from pending or active.
func (s *SessionService) CloseSession(ctx context.Context, sessionID uint) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, sessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrSessionNotFound
			}
			return err
		}
		res := tx.Model(&models.ChatSession{}).
			Where("id = ? AND status IN ?", sessionID, []string{models.SessionPending, models.SessionActive}).
			Updates(map[string]interface{}{
				"status":   models.SessionClosed,
				"ended_at": time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrSessionClosed
		}
		return tx.First(&session, sessionID).Error
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// AppendMessage persists one message and refreshes last_message_at. The
// refresh is conditional on the session still being open, so a message can
// never land on a closed session even if the close races the send.
func (s *SessionService) AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error) {
	if !msg.Validate() {
		return nil, ErrInvalidMessage
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.ChatSession{}).
			Where("id = ? AND status != ?", msg.SessionID, models.SessionClosed).
			Update("last_message_at", time.Now())
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&models.ChatSession{}).Where("id = ?", msg.SessionID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return ErrSessionNotFound
			}
			return ErrSessionClosed
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkSeen records the per-role read pointer. Purely a read-receipt signal,
// no delivery semantics. The pointer must name a message of this session.
func (s *SessionService) MarkSeen(ctx context.Context, sessionID uint, role string, messageID uint) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.ChatMessage{}).
		Where("id = ? AND session_id = ?", messageID, sessionID).
		Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}

	field := "agent_last_seen_message_id"
	if role == models.RoleCustomer {
		field = "customer_last_seen_message_id"
	}
	res := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("id = ?", sessionID).
		Update(field, messageID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrSessionNotFound
	}
	return nil
}

// ActiveChatCount is the derived workload of one agent.
func (s *SessionService) ActiveChatCount(ctx context.Context, agentID uint) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("agent_id = ? AND status = ?", agentID, models.SessionActive).
		Count(&count).Error
	return int(count), err
}

// AgentWorkloads returns every agent account with its derived workload.
func (s *SessionService) AgentWorkloads(ctx context.Context) ([]AgentWorkload, error) {
	var agents []models.User
	err := s.db.WithContext(ctx).
		Where("role = ?", models.RoleAgent).
		Order("id ASC").
		Find(&agents).Error
	if err != nil {
		return nil, err
	}
	workloads := make([]AgentWorkload, 0, len(agents))
	for _, agent := range agents {
		active, err := s.ActiveChatCount(ctx, agent.ID)
		if err != nil {
			return nil, err
		}
		slots := agent.MaxConcurrentChats - active
		if slots < 0 {
			slots = 0
		}
		workloads = append(workloads, AgentWorkload{
			Agent:          agent,
			ActiveChats:    active,
			AvailableSlots: slots,
			IsAtCapacity:   active >= agent.MaxConcurrentChats,
		})
	}
	return workloads, nil
}

// OnlineAgentWorkloads is the routing candidate pool: online, active agent
// accounts with their live workloads.
func (s *SessionService) OnlineAgentWorkloads(ctx context.Context) ([]AgentWorkload, error) {
	workloads, err := s.AgentWorkloads(ctx)
	if err != nil {
		return nil, err
	}
	pool := workloads[:0]
	for _, w := range workloads {
		if w.Agent.AvailabilityStatus == models.AgentOnline && w.Agent.Status == models.AccountActive {
			pool = append(pool, w)
		}
	}
	return pool, nil
}

func derefAgentID(id *uint) uint {
	if id == nil {
		return 0
	}
	return *id
}
