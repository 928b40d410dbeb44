package handlers

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/AkashInfoDev/helpdesk-back-end/kafka"
	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

// SessionStore is the broker's view of durable session state. Assign,
// transfer and close are atomic conditional transitions: guard and commit
// happen as one unit at the store so concurrent commands on the same session
// resolve to exactly one winner.
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ChatSession) error
	GetSession(ctx context.Context, id uint) (*models.ChatSession, error)
	AssignAgent(ctx context.Context, sessionID, agentID uint) (*models.ChatSession, error)
	TransferAgent(ctx context.Context, sessionID, toAgentID uint, reason string, requestedBy uint) (*models.ChatSession, *models.ChatMessage, error)
	CloseSession(ctx context.Context, sessionID uint) (*models.ChatSession, error)
	AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error)
	MarkSeen(ctx context.Context, sessionID uint, role string, messageID uint) error
	PendingSessions(ctx context.Context) ([]models.ChatSession, error)
	AgentWorkloads(ctx context.Context) ([]services.AgentWorkload, error)
	OnlineAgentWorkloads(ctx context.Context) ([]services.AgentWorkload, error)
}

// AgentPresence is the broker's view of the agent directory's availability
// state.
type AgentPresence interface {
	HandleConnect(ctx context.Context, agentID uint) (*models.User, error)
	HandleDisconnect(ctx context.Context, agentID uint) (*models.User, error)
	ActivityPing(ctx context.Context, agentID uint) (*models.User, bool, error)
	SetAvailability(ctx context.Context, agentID uint, status string) (*models.User, error)
}

// CannedStore resolves and renders canned responses.
type CannedStore interface {
	Use(ctx context.Context, id, agentID uint, variables map[string]string) (string, error)
}

// EventPublisher pushes lifecycle events to the event stream. Nil disables
// publishing.
type EventPublisher interface {
	PublishChatEvent(eventType string, sessionID uint, payload interface{})
}

// Broker is the single authority translating participant commands into
// session transitions and fanning the resulting events out to rooms. All
// collaborators are injected.
type Broker struct {
	hub      *Hub
	sessions SessionStore
	presence AgentPresence
	canned   CannedStore
	events   EventPublisher

	// Per-session locks serialize mutating commands (send, transfer, end)
	// within this process; the store's conditional updates close the same
	// races across processes. Commands on different sessions run in
	// parallel.
	locks sync.Map
}

func NewBroker(hub *Hub, sessions SessionStore, presence AgentPresence, canned CannedStore, events EventPublisher) *Broker {
	return &Broker{
		hub:      hub,
		sessions: sessions,
		presence: presence,
		canned:   canned,
		events:   events,
	}
}

func (b *Broker) Hub() *Hub { return b.hub }

func (b *Broker) sessionLock(sessionID uint) *sync.Mutex {
	v, _ := b.locks.LoadOrStore(sessionID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (b *Broker) publish(eventType string, sessionID uint, payload interface{}) {
	if b.events == nil {
		return
	}
	b.events.PublishChatEvent(eventType, sessionID, payload)
}

// OnConnect registers a live connection. An agent's first connection forces
// their presence online and broadcasts the change.
func (b *Broker) OnConnect(ctx context.Context, client *Client) {
	connections := b.hub.Register(client)
	if client.User.Role != models.RoleAgent || connections != 1 {
		return
	}
	agent, err := b.presence.HandleConnect(ctx, client.User.ID)
	if err != nil {
		log.Printf("presence connect failed for agent %d: %v", client.User.ID, err)
		return
	}
	b.broadcastAgentStatus(agent)
}

// OnDisconnect drops a connection. Presence goes offline only when the
// agent's last connection closes, so a second browser tab does not flap
// their status.
func (b *Broker) OnDisconnect(ctx context.Context, client *Client) {
	remaining := b.hub.Unregister(client)
	if client.User.Role != models.RoleAgent || remaining != 0 {
		return
	}
	agent, err := b.presence.HandleDisconnect(ctx, client.User.ID)
	if err != nil {
		log.Printf("presence disconnect failed for agent %d: %v", client.User.ID, err)
		return
	}
	b.broadcastAgentStatus(agent)
}

func (b *Broker) broadcastAgentStatus(agent *models.User) {
	payload := map[string]interface{}{
		"agent_id": agent.ID,
		"agent":    agent,
		"status":   agent.AvailabilityStatus,
	}
	b.hub.BroadcastAgents(Event{Type: "agent_status_changed", Payload: payload})
	b.publish(kafka.EventAgentStatusChanged, 0, payload)
}

// StartRequest creates a new pending session.
type StartRequest struct {
	Subject        string                 `json:"subject"`
	Priority       string                 `json:"priority"`
	RequiredSkills []string               `json:"required_skills"`
	Source         string                 `json:"source"`
	Metadata       map[string]interface{} `json:"metadata"`
}

// Start creates a pending session owned by the customer and notifies every
// connected agent of the new queue item. No auto-assignment happens here.
func (b *Broker) Start(ctx context.Context, user *models.User, req StartRequest) (*models.ChatSession, error) {
	session := &models.ChatSession{
		CustomerID:     user.ID,
		Subject:        req.Subject,
		Priority:       req.Priority,
		RequiredSkills: req.RequiredSkills,
		Source:         req.Source,
		Metadata:       req.Metadata,
	}
	if err := b.sessions.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	b.hub.BroadcastAgents(Event{Type: "new_session", Payload: session})
	b.publish(kafka.EventSessionStarted, session.ID, session)
	return session, nil
}

// Join subscribes a connection to a session's room. Permissive by design:
// fine-grained access is enforced per command, not at join time. Joining a
// closed session fails so dead rooms are not resurrected.
func (b *Broker) Join(ctx context.Context, client *Client, sessionID uint) error {
	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status == models.SessionClosed {
		return services.ErrSessionClosed
	}
	b.hub.JoinRoom(sessionID, client)
	return nil
}

// Accept is an agent taking a pending session: first to commit wins, every
// other concurrent accept observes AlreadyAssigned.
func (b *Broker) Accept(ctx context.Context, agent *models.User, sessionID uint) (*models.ChatSession, error) {
	if agent.Role != models.RoleAgent {
		return nil, services.ErrNotParticipant
	}
	return b.assign(ctx, sessionID, agent.ID)
}

// AssignTo is an admin placing a pending session on a specific agent. Both
// paths funnel through the same store guard; the routing engine's pick gets
// no special treatment either.
func (b *Broker) AssignTo(ctx context.Context, requester *models.User, sessionID, agentID uint) (*models.ChatSession, error) {
	if requester.Role != models.RoleAdmin {
		return nil, services.ErrNotParticipant
	}
	return b.assign(ctx, sessionID, agentID)
}

func (b *Broker) assign(ctx context.Context, sessionID, agentID uint) (*models.ChatSession, error) {
	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := b.sessions.AssignAgent(ctx, sessionID, agentID)
	if err != nil {
		return nil, err
	}
	payload := map[string]interface{}{
		"session_id": session.ID,
		"agent_id":   agentID,
		"session":    session,
	}
	b.hub.BroadcastRoom(sessionID, Event{Type: "session_assigned", Payload: payload})
	b.hub.SendToUser(agentID, Event{Type: "session_assigned", Payload: payload})
	b.publish(kafka.EventSessionAssigned, sessionID, payload)
	return session, nil
}

// SendRequest posts one message into a session.
type SendRequest struct {
	SessionID     uint   `json:"session_id"`
	Type          string `json:"type"`
	Content       string `json:"content"`
	AttachmentURL string `json:"attachment_url"`
	KBArticleID   *uint  `json:"kb_article_id"`
}

// SendMessage validates, persists and fans out one message. The closed check
// runs before authorization so every caller sees SessionClosed on a dead
// session, and the per-session lock keeps fan-out in persisted order.
func (b *Broker) SendMessage(ctx context.Context, user *models.User, req SendRequest) (*models.ChatMessage, error) {
	lock := b.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := b.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, services.ErrSessionClosed
	}
	if !session.Participant(user) {
		return nil, services.ErrNotParticipant
	}

	senderID := user.ID
	msg := &models.ChatMessage{
		SessionID:     req.SessionID,
		SenderID:      &senderID,
		SenderRole:    user.Role,
		Type:          req.Type,
		Content:       req.Content,
		AttachmentURL: req.AttachmentURL,
		KBArticleID:   req.KBArticleID,
	}
	msg, err = b.sessions.AppendMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	b.hub.BroadcastRoom(req.SessionID, Event{Type: "new_message", Payload: msg})
	b.publish(kafka.EventMessageSent, req.SessionID, msg)
	return msg, nil
}

// TypingRequest is the fire-and-forget typing indicator.
type TypingRequest struct {
	SessionID uint `json:"session_id"`
	IsTyping  bool `json:"is_typing"`
}

// Typing broadcasts the indicator to the room. No persistence, no state
// machine involvement.
func (b *Broker) Typing(user *models.User, req TypingRequest) {
	b.hub.BroadcastRoom(req.SessionID, Event{Type: "typing", Payload: map[string]interface{}{
		"session_id": req.SessionID,
		"user_id":    user.ID,
		"role":       user.Role,
		"is_typing":  req.IsTyping,
	}})
}

// SeenRequest moves a read receipt pointer.
type SeenRequest struct {
	SessionID uint `json:"session_id"`
	MessageID uint `json:"last_seen_message_id"`
}

// MarkSeen records the caller's per-role last-seen pointer and tells the
// room. Purely informational, no delivery semantics.
func (b *Broker) MarkSeen(ctx context.Context, user *models.User, req SeenRequest) error {
	session, err := b.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return err
	}
	if !session.Participant(user) {
		return services.ErrNotParticipant
	}
	if err := b.sessions.MarkSeen(ctx, req.SessionID, user.Role, req.MessageID); err != nil {
		return err
	}
	b.hub.BroadcastRoom(req.SessionID, Event{Type: "seen", Payload: map[string]interface{}{
		"session_id":           req.SessionID,
		"user_id":              user.ID,
		"last_seen_message_id": req.MessageID,
	}})
	return nil
}

// TransferRequest moves an active session to another agent.
type TransferRequest struct {
	SessionID uint   `json:"session_id"`
	ToAgentID uint   `json:"to_agent_id"`
	Reason    string `json:"reason"`
}

// Transfer reassigns an active session. Only the currently assigned agent or
// an admin may request it; capacity of the target is re-verified atomically
// at commit. The audit record and system message are written by the store in
// the same transaction.
func (b *Broker) Transfer(ctx context.Context, requester *models.User, req TransferRequest) (*models.ChatSession, error) {
	lock := b.sessionLock(req.SessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := b.sessions.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, services.ErrSessionClosed
	}
	isCurrentAgent := session.AgentID != nil && *session.AgentID == requester.ID
	if !isCurrentAgent && requester.Role != models.RoleAdmin {
		return nil, services.ErrNotSessionAgent
	}

	session, sysMsg, err := b.sessions.TransferAgent(ctx, req.SessionID, req.ToAgentID, req.Reason, requester.ID)
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"session_id":    session.ID,
		"from_agent_id": lastTransferFrom(session),
		"to_agent_id":   req.ToAgentID,
		"reason":        req.Reason,
	}
	b.hub.BroadcastRoom(req.SessionID, Event{Type: "transferred", Payload: payload})
	b.hub.BroadcastRoom(req.SessionID, Event{Type: "new_message", Payload: sysMsg})
	b.hub.SendToUser(req.ToAgentID, Event{Type: "session_assigned", Payload: map[string]interface{}{
		"session_id": session.ID,
		"agent_id":   req.ToAgentID,
		"session":    session,
	}})
	b.publish(kafka.EventSessionTransferred, session.ID, payload)
	return session, nil
}

func lastTransferFrom(session *models.ChatSession) *uint {
	if n := len(session.TransferHistory); n > 0 {
		return session.TransferHistory[n-1].FromAgentID
	}
	return nil
}

// End closes a session from pending or active. Allowed for the owning
// customer, the assigned agent, or an admin; the room is torn down after the
// closure broadcast.
func (b *Broker) End(ctx context.Context, requester *models.User, sessionID uint) (*models.ChatSession, error) {
	lock := b.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	session, err := b.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.Status == models.SessionClosed {
		return nil, services.ErrSessionClosed
	}
	if !session.Participant(requester) {
		return nil, services.ErrNotParticipant
	}

	session, err = b.sessions.CloseSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	b.hub.BroadcastRoom(sessionID, Event{Type: "ended", Payload: map[string]interface{}{
		"session_id": sessionID,
		"ended_by":   requester.Role,
	}})
	// The lock entry stays in the map: deleting it here would let a command
	// racing this End mint a second mutex for the same session. Late
	// commands serialize on the existing mutex and fail on the closed
	// status at the store.
	b.hub.CloseRoom(sessionID)
	b.publish(kafka.EventSessionEnded, sessionID, map[string]interface{}{
		"session_id": sessionID,
		"ended_by":   requester.Role,
	})
	return session, nil
}

// UpdateStatus is a manual availability change by the agent themselves (or
// an admin overriding via the REST surface). Always broadcasts.
func (b *Broker) UpdateStatus(ctx context.Context, agentID uint, status string) (*models.User, error) {
	agent, err := b.presence.SetAvailability(ctx, agentID, status)
	if err != nil {
		return nil, err
	}
	b.broadcastAgentStatus(agent)
	return agent, nil
}

// ActivityPing refreshes the agent's activity timestamp; an away agent is
// promoted back to online, which is the only case worth broadcasting.
func (b *Broker) ActivityPing(ctx context.Context, agentID uint) error {
	agent, changed, err := b.presence.ActivityPing(ctx, agentID)
	if err != nil {
		return err
	}
	if changed {
		b.broadcastAgentStatus(agent)
	}
	return nil
}

// AgentsStatus returns every agent with live derived workload, for agent and
// admin dashboards.
func (b *Broker) AgentsStatus(ctx context.Context, requester *models.User) ([]services.AgentWorkload, error) {
	if requester.Role != models.RoleAgent && requester.Role != models.RoleAdmin {
		return nil, services.ErrNotParticipant
	}
	return b.sessions.AgentWorkloads(ctx)
}

// CannedRequest sends a canned response into a session.
type CannedRequest struct {
	SessionID  uint              `json:"session_id"`
	ResponseID uint              `json:"response_id"`
	Variables  map[string]string `json:"variables"`
}

// UseCanned renders a canned response and sends it through the normal
// message path, so validation, persistence and fan-out are identical to a
// hand-typed message.
func (b *Broker) UseCanned(ctx context.Context, agent *models.User, req CannedRequest) (*models.ChatMessage, error) {
	if agent.Role != models.RoleAgent {
		return nil, services.ErrNotParticipant
	}
	content, err := b.canned.Use(ctx, req.ResponseID, agent.ID, req.Variables)
	if err != nil {
		return nil, err
	}
	return b.SendMessage(ctx, agent, SendRequest{
		SessionID: req.SessionID,
		Type:      models.MessageText,
		Content:   content,
	})
}

// AssignmentResult records one auto-assign decision.
type AssignmentResult struct {
	SessionID uint `json:"session_id"`
	AgentID   uint `json:"agent_id"`
	WaitTime  int  `json:"wait_time"`
}

// AutoAssign walks the pending queue in service order and offers each
// session to the routing engine's pick. The engine is advisory: the store
// re-checks capacity at commit, so a losing race just skips that session.
func (b *Broker) AutoAssign(ctx context.Context, limit int) ([]AssignmentResult, error) {
	if limit <= 0 {
		limit = 10
	}
	pending, err := b.sessions.PendingSessions(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) > limit {
		pending = pending[:limit]
	}

	assigned := make([]AssignmentResult, 0, len(pending))
	for _, session := range pending {
		pool, err := b.sessions.OnlineAgentWorkloads(ctx)
		if err != nil {
			return assigned, err
		}
		pick := services.SelectAgent(session.RequiredSkills, session.Priority, pool)
		if pick == nil {
			continue
		}
		updated, err := b.assign(ctx, session.ID, pick.Agent.ID)
		if err != nil {
			// Expected races: someone accepted meanwhile or the pick
			// just filled up. Skip and keep draining the queue.
			if errors.Is(err, services.ErrAlreadyAssigned) ||
				errors.Is(err, services.ErrAgentAtCapacity) ||
				errors.Is(err, services.ErrAgentUnavailable) {
				continue
			}
			return assigned, err
		}
		assigned = append(assigned, AssignmentResult{
			SessionID: updated.ID,
			AgentID:   pick.Agent.ID,
			WaitTime:  updated.WaitTime,
		})
	}
	return assigned, nil
}

// QueueStats summarizes the pending queue as of now.
func (b *Broker) QueueStats(ctx context.Context) (services.QueueStats, error) {
	pending, err := b.sessions.PendingSessions(ctx)
	if err != nil {
		return services.QueueStats{}, err
	}
	return services.BuildQueueStats(pending, time.Now()), nil
}
