package handlers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

// fakeStore reproduces the store's conditional-transition semantics in
// memory: assign succeeds only from pending, transfer only from active, and
// capacity is re-derived on every commit.
type fakeStore struct {
	mu         sync.Mutex
	sessions   map[uint]*models.ChatSession
	messages   []models.ChatMessage
	agents     map[uint]*models.User
	nextMsgID  uint
	nextSessID uint
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[uint]*models.ChatSession),
		agents:   make(map[uint]*models.User),
	}
}

func (f *fakeStore) addAgent(agent *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[agent.ID] = agent
}

func (f *fakeStore) addSession(s *models.ChatSession) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s.ID == 0 {
		f.nextSessID++
		s.ID = f.nextSessID
	} else if s.ID > f.nextSessID {
		f.nextSessID = s.ID
	}
	f.sessions[s.ID] = s
}

func (f *fakeStore) CreateSession(ctx context.Context, s *models.ChatSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSessID++
	s.ID = f.nextSessID
	s.Status = models.SessionPending
	if s.Priority == "" {
		s.Priority = models.PriorityMedium
	}
	if !models.ValidPriority(s.Priority) {
		return services.ErrInvalidPriority
	}
	s.StartedAt = time.Now()
	copied := *s
	f.sessions[s.ID] = &copied
	return nil
}

func (f *fakeStore) GetSession(ctx context.Context, id uint) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (f *fakeStore) activeCountLocked(agentID uint) int {
	count := 0
	for _, s := range f.sessions {
		if s.Status == models.SessionActive && s.AgentID != nil && *s.AgentID == agentID {
			count++
		}
	}
	return count
}

func (f *fakeStore) AssignAgent(ctx context.Context, sessionID, agentID uint) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	agent, ok := f.agents[agentID]
	if !ok {
		return nil, services.ErrAgentNotFound
	}
	if agent.AvailabilityStatus != models.AgentOnline {
		return nil, services.ErrAgentUnavailable
	}
	if f.activeCountLocked(agentID) >= agent.MaxConcurrentChats {
		return nil, services.ErrAgentAtCapacity
	}

	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	switch s.Status {
	case models.SessionClosed:
		return nil, services.ErrSessionClosed
	case models.SessionActive:
		return nil, services.ErrAlreadyAssigned
	}

	now := time.Now()
	s.AgentID = &agentID
	s.Status = models.SessionActive
	s.AssignedAt = &now
	s.WaitTime = int(now.Sub(s.StartedAt).Seconds())
	copied := *s
	return &copied, nil
}

func (f *fakeStore) TransferAgent(ctx context.Context, sessionID, toAgentID uint, reason string, requestedBy uint) (*models.ChatSession, *models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	target, ok := f.agents[toAgentID]
	if !ok {
		return nil, nil, services.ErrAgentNotFound
	}
	if f.activeCountLocked(toAgentID) >= target.MaxConcurrentChats {
		return nil, nil, services.ErrAgentAtCapacity
	}

	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, nil, services.ErrSessionNotFound
	}
	if s.Status == models.SessionClosed {
		return nil, nil, services.ErrSessionClosed
	}
	if s.Status != models.SessionActive {
		return nil, nil, services.ErrSessionNotActive
	}

	now := time.Now()
	s.TransferHistory = append(s.TransferHistory, models.TransferRecord{
		FromAgentID:   s.AgentID,
		ToAgentID:     toAgentID,
		TransferredAt: now,
		Reason:        reason,
		TransferredBy: requestedBy,
	})
	s.AgentID = &toAgentID

	f.nextMsgID++
	sysMsg := models.ChatMessage{
		ID:         f.nextMsgID,
		SessionID:  sessionID,
		SenderRole: models.SenderSystem,
		Type:       models.MessageSystem,
		Content:    "Chat transferred to another agent",
		CreatedAt:  now,
	}
	f.messages = append(f.messages, sysMsg)

	copied := *s
	return &copied, &sysMsg, nil
}

func (f *fakeStore) CloseSession(ctx context.Context, sessionID uint) (*models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	if s.Status == models.SessionClosed {
		return nil, services.ErrSessionClosed
	}
	now := time.Now()
	s.Status = models.SessionClosed
	s.EndedAt = &now
	copied := *s
	return &copied, nil
}

func (f *fakeStore) AppendMessage(ctx context.Context, msg *models.ChatMessage) (*models.ChatMessage, error) {
	if !msg.Validate() {
		return nil, services.ErrInvalidMessage
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[msg.SessionID]
	if !ok {
		return nil, services.ErrSessionNotFound
	}
	if s.Status == models.SessionClosed {
		return nil, services.ErrSessionClosed
	}
	f.nextMsgID++
	msg.ID = f.nextMsgID
	msg.CreatedAt = time.Now()
	f.messages = append(f.messages, *msg)
	copied := *msg
	return &copied, nil
}

func (f *fakeStore) MarkSeen(ctx context.Context, sessionID uint, role string, messageID uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	if !ok {
		return services.ErrSessionNotFound
	}
	found := false
	for _, m := range f.messages {
		if m.ID == messageID && m.SessionID == sessionID {
			found = true
			break
		}
	}
	if !found {
		return services.ErrMessageNotFound
	}
	if role == models.RoleCustomer {
		s.CustomerLastSeenMessageID = &messageID
	} else {
		s.AgentLastSeenMessageID = &messageID
	}
	return nil
}

func (f *fakeStore) PendingSessions(ctx context.Context) ([]models.ChatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var pending []models.ChatSession
	for _, s := range f.sessions {
		if s.Status == models.SessionPending {
			pending = append(pending, *s)
		}
	}
	return pending, nil
}

func (f *fakeStore) workloadsLocked() []services.AgentWorkload {
	var out []services.AgentWorkload
	for _, agent := range f.agents {
		active := f.activeCountLocked(agent.ID)
		out = append(out, services.AgentWorkload{
			Agent:          *agent,
			ActiveChats:    active,
			AvailableSlots: agent.MaxConcurrentChats - active,
			IsAtCapacity:   active >= agent.MaxConcurrentChats,
		})
	}
	return out
}

func (f *fakeStore) AgentWorkloads(ctx context.Context) ([]services.AgentWorkload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.workloadsLocked(), nil
}

func (f *fakeStore) OnlineAgentWorkloads(ctx context.Context) ([]services.AgentWorkload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []services.AgentWorkload
	for _, w := range f.workloadsLocked() {
		if w.Agent.AvailabilityStatus == models.AgentOnline {
			out = append(out, w)
		}
	}
	return out, nil
}

type fakePresence struct {
	mu     sync.Mutex
	status map[uint]string
}

func newFakePresence() *fakePresence {
	return &fakePresence{status: make(map[uint]string)}
}

func (f *fakePresence) set(agentID uint, status string) *models.User {
	f.status[agentID] = status
	return &models.User{ID: agentID, Role: models.RoleAgent, AvailabilityStatus: status}
}

func (f *fakePresence) HandleConnect(ctx context.Context, agentID uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set(agentID, models.AgentOnline), nil
}

func (f *fakePresence) HandleDisconnect(ctx context.Context, agentID uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set(agentID, models.AgentOffline), nil
}

func (f *fakePresence) ActivityPing(ctx context.Context, agentID uint) (*models.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status[agentID] == models.AgentAway {
		return f.set(agentID, models.AgentOnline), true, nil
	}
	return &models.User{ID: agentID, Role: models.RoleAgent, AvailabilityStatus: f.status[agentID]}, false, nil
}

func (f *fakePresence) SetAvailability(ctx context.Context, agentID uint, status string) (*models.User, error) {
	if !models.ValidAvailabilityStatus(status) {
		return nil, services.ErrInvalidStatus
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set(agentID, status), nil
}

func (f *fakePresence) current(agentID uint) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status[agentID]
}

type fakeCanned struct{}

func (fakeCanned) Use(ctx context.Context, id, agentID uint, variables map[string]string) (string, error) {
	if id == 404 {
		return "", services.ErrCannedNotFound
	}
	return services.RenderTemplate("Hi {{name}}!", variables), nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []string
}

func (f *fakePublisher) PublishChatEvent(eventType string, sessionID uint, payload interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, eventType)
}

func testBroker() (*Broker, *fakeStore, *fakePresence, *fakePublisher) {
	store := newFakeStore()
	presence := newFakePresence()
	publisher := &fakePublisher{}
	broker := NewBroker(NewHub(), store, presence, fakeCanned{}, publisher)
	return broker, store, presence, publisher
}

func onlineAgent(id uint, max int) *models.User {
	return &models.User{
		ID:                 id,
		Role:               models.RoleAgent,
		Status:             models.AccountActive,
		AvailabilityStatus: models.AgentOnline,
		MaxConcurrentChats: max,
	}
}

func testClient(id string, user *models.User) *Client {
	return &Client{ID: id, User: user, Send: make(chan interface{}, 256)}
}

func drainEvents(c *Client) []Event {
	var events []Event
	for {
		select {
		case raw := <-c.Send:
			if e, ok := raw.(Event); ok {
				events = append(events, e)
			}
		default:
			return events
		}
	}
}

func TestConcurrentAcceptSingleWinner(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	for i := uint(1); i <= 10; i++ {
		store.addAgent(onlineAgent(i, 5))
	}
	store.addSession(&models.ChatSession{ID: 1, CustomerID: 100, Status: models.SessionPending, Priority: models.PriorityMedium, StartedAt: time.Now()})

	var wg sync.WaitGroup
	var winners, losers int64
	var mu sync.Mutex

	for i := uint(1); i <= 10; i++ {
		wg.Add(1)
		go func(agentID uint) {
			defer wg.Done()
			_, err := broker.Accept(context.Background(), onlineAgent(agentID, 5), 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				winners++
			case errors.Is(err, services.ErrAlreadyAssigned):
				losers++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if winners != 1 || losers != 9 {
		t.Fatalf("winners = %d, losers = %d, want 1 and 9", winners, losers)
	}

	session, err := store.GetSession(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionActive || session.AgentID == nil {
		t.Fatalf("session = %+v, want active with agent", session)
	}
}

func TestAcceptRespectsCapacity(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agent := onlineAgent(1, 2)
	store.addAgent(agent)
	for i := uint(1); i <= 3; i++ {
		store.addSession(&models.ChatSession{ID: i, CustomerID: 100 + i, Status: models.SessionPending, Priority: models.PriorityMedium, StartedAt: time.Now()})
	}

	ctx := context.Background()
	if _, err := broker.Accept(ctx, agent, 1); err != nil {
		t.Fatalf("first accept: %v", err)
	}
	if _, err := broker.Accept(ctx, agent, 2); err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if _, err := broker.Accept(ctx, agent, 3); !errors.Is(err, services.ErrAgentAtCapacity) {
		t.Fatalf("third accept err = %v, want ErrAgentAtCapacity", err)
	}
}

func TestClosedSessionIsTerminal(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addAgent(onlineAgent(2, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionClosed, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()
	customer := &models.User{ID: 100, Role: models.RoleCustomer}
	agent := onlineAgent(agentID, 5)

	// The closed check wins over authorization: even a non-participant
	// sees SessionClosed.
	stranger := &models.User{ID: 999, Role: models.RoleCustomer}
	if _, err := broker.SendMessage(ctx, stranger, SendRequest{SessionID: 1, Type: models.MessageText, Content: "hi"}); !errors.Is(err, services.ErrSessionClosed) {
		t.Errorf("stranger send err = %v, want ErrSessionClosed", err)
	}
	if _, err := broker.SendMessage(ctx, customer, SendRequest{SessionID: 1, Type: models.MessageText, Content: "hi"}); !errors.Is(err, services.ErrSessionClosed) {
		t.Errorf("send err = %v, want ErrSessionClosed", err)
	}
	if _, err := broker.Transfer(ctx, agent, TransferRequest{SessionID: 1, ToAgentID: 2}); !errors.Is(err, services.ErrSessionClosed) {
		t.Errorf("transfer err = %v, want ErrSessionClosed", err)
	}
	if _, err := broker.End(ctx, customer, 1); !errors.Is(err, services.ErrSessionClosed) {
		t.Errorf("end err = %v, want ErrSessionClosed", err)
	}
	if _, err := broker.Accept(ctx, agent, 1); !errors.Is(err, services.ErrSessionClosed) {
		t.Errorf("accept err = %v, want ErrSessionClosed", err)
	}
}

func TestConcurrentSendsKeepPersistedOrder(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	observer := testClient("observer", &models.User{ID: 100, Role: models.RoleCustomer})
	broker.Hub().Register(observer)
	broker.Hub().JoinRoom(1, observer)

	const n = 50
	var wg sync.WaitGroup
	ctx := context.Background()
	customer := &models.User{ID: 100, Role: models.RoleCustomer}
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := broker.SendMessage(ctx, customer, SendRequest{SessionID: 1, Type: models.MessageText, Content: "m"}); err != nil {
				t.Errorf("send: %v", err)
			}
		}()
	}
	wg.Wait()

	events := drainEvents(observer)
	var lastID uint
	seen := 0
	for _, e := range events {
		msg, ok := e.Payload.(*models.ChatMessage)
		if !ok {
			continue
		}
		seen++
		if msg.ID <= lastID {
			t.Fatalf("broadcast order violated: id %d after %d", msg.ID, lastID)
		}
		lastID = msg.ID
	}
	if seen != n {
		t.Fatalf("observer saw %d messages, want %d", seen, n)
	}
}

func TestTransferAuthorizationAndAudit(t *testing.T) {
	t.Parallel()

	broker, store, _, publisher := testBroker()
	fromID, toID := uint(1), uint(2)
	store.addAgent(onlineAgent(fromID, 5))
	store.addAgent(onlineAgent(toID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &fromID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()

	// Another agent may not move a chat they do not hold.
	outsider := onlineAgent(3, 5)
	if _, err := broker.Transfer(ctx, outsider, TransferRequest{SessionID: 1, ToAgentID: toID}); !errors.Is(err, services.ErrNotSessionAgent) {
		t.Fatalf("outsider transfer err = %v, want ErrNotSessionAgent", err)
	}

	room := testClient("room", &models.User{ID: 100, Role: models.RoleCustomer})
	target := testClient("target", onlineAgent(toID, 5))
	broker.Hub().Register(room)
	broker.Hub().Register(target)
	broker.Hub().JoinRoom(1, room)

	session, err := broker.Transfer(ctx, onlineAgent(fromID, 5), TransferRequest{SessionID: 1, ToAgentID: toID, Reason: "needs billing"})
	if err != nil {
		t.Fatal(err)
	}
	if session.AgentID == nil || *session.AgentID != toID {
		t.Fatalf("agent after transfer = %v, want %d", session.AgentID, toID)
	}
	if len(session.TransferHistory) != 1 {
		t.Fatalf("transfer history length = %d, want 1", len(session.TransferHistory))
	}
	record := session.TransferHistory[0]
	if record.FromAgentID == nil || *record.FromAgentID != fromID || record.ToAgentID != toID || record.Reason != "needs billing" {
		t.Fatalf("transfer record = %+v", record)
	}

	var sawTransfer, sawSystem bool
	for _, e := range drainEvents(room) {
		switch e.Type {
		case "transferred":
			sawTransfer = true
		case "new_message":
			if msg, ok := e.Payload.(*models.ChatMessage); ok && msg.SenderRole == models.SenderSystem {
				sawSystem = true
			}
		}
	}
	if !sawTransfer || !sawSystem {
		t.Errorf("room events: transferred=%v system message=%v", sawTransfer, sawSystem)
	}

	var targetNotified bool
	for _, e := range drainEvents(target) {
		if e.Type == "session_assigned" {
			targetNotified = true
		}
	}
	if !targetNotified {
		t.Error("target agent never heard session_assigned")
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	var published bool
	for _, e := range publisher.events {
		if e == "session_transferred" {
			published = true
		}
	}
	if !published {
		t.Error("session_transferred never reached the event stream")
	}
}

func TestTransferRespectsTargetCapacity(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	fromID, toID := uint(1), uint(2)
	store.addAgent(onlineAgent(fromID, 5))
	store.addAgent(onlineAgent(toID, 1))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &fromID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})
	store.addSession(&models.ChatSession{
		ID: 2, CustomerID: 101, AgentID: &toID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	_, err := broker.Transfer(context.Background(), onlineAgent(fromID, 5), TransferRequest{SessionID: 1, ToAgentID: toID})
	if !errors.Is(err, services.ErrAgentAtCapacity) {
		t.Fatalf("err = %v, want ErrAgentAtCapacity", err)
	}
	// The losing transfer must leave the session untouched.
	session, _ := store.GetSession(context.Background(), 1)
	if session.AgentID == nil || *session.AgentID != fromID || len(session.TransferHistory) != 0 {
		t.Fatalf("session mutated by rejected transfer: %+v", session)
	}
}

func TestMarkSeenValidatesMessage(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()
	customer := &models.User{ID: 100, Role: models.RoleCustomer}
	msg, err := broker.SendMessage(ctx, customer, SendRequest{SessionID: 1, Type: models.MessageText, Content: "hi"})
	if err != nil {
		t.Fatal(err)
	}

	if err := broker.MarkSeen(ctx, customer, SeenRequest{SessionID: 1, MessageID: msg.ID + 100}); !errors.Is(err, services.ErrMessageNotFound) {
		t.Fatalf("bogus pointer err = %v, want ErrMessageNotFound", err)
	}
	if err := broker.MarkSeen(ctx, customer, SeenRequest{SessionID: 1, MessageID: msg.ID}); err != nil {
		t.Fatalf("mark seen: %v", err)
	}
	session, _ := store.GetSession(ctx, 1)
	if session.CustomerLastSeenMessageID == nil || *session.CustomerLastSeenMessageID != msg.ID {
		t.Fatalf("customer pointer = %v, want %d", session.CustomerLastSeenMessageID, msg.ID)
	}
}

func TestTransferPendingSessionRejected(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	store.addAgent(onlineAgent(2, 5))
	store.addSession(&models.ChatSession{ID: 1, CustomerID: 100, Status: models.SessionPending, Priority: models.PriorityMedium, StartedAt: time.Now()})

	admin := &models.User{ID: 50, Role: models.RoleAdmin}
	if _, err := broker.Transfer(context.Background(), admin, TransferRequest{SessionID: 1, ToAgentID: 2}); !errors.Is(err, services.ErrSessionNotActive) {
		t.Fatalf("err = %v, want ErrSessionNotActive", err)
	}
}

func TestEndAuthorization(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()
	stranger := &models.User{ID: 999, Role: models.RoleCustomer}
	if _, err := broker.End(ctx, stranger, 1); !errors.Is(err, services.ErrNotParticipant) {
		t.Fatalf("stranger end err = %v, want ErrNotParticipant", err)
	}

	session, err := broker.End(ctx, &models.User{ID: 100, Role: models.RoleCustomer}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionClosed || session.EndedAt == nil {
		t.Fatalf("session after end = %+v", session)
	}
}

func TestSendsRacingEndResolveCleanly(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()
	customer := &models.User{ID: 100, Role: models.RoleCustomer}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := broker.SendMessage(ctx, customer, SendRequest{SessionID: 1, Type: models.MessageText, Content: "m"})
			// A send either lands before the close or observes the
			// closed session; no third outcome.
			if err != nil && !errors.Is(err, services.ErrSessionClosed) {
				t.Errorf("send err = %v", err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := broker.End(ctx, customer, 1); err != nil {
			t.Errorf("end: %v", err)
		}
	}()
	wg.Wait()

	session, err := store.GetSession(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionClosed {
		t.Fatalf("session status = %q, want closed", session.Status)
	}
}

func TestStartValidatesAndNotifiesAgents(t *testing.T) {
	t.Parallel()

	broker, _, _, publisher := testBroker()
	agentClient := testClient("agent", onlineAgent(1, 5))
	customerClient := testClient("customer", &models.User{ID: 200, Role: models.RoleCustomer})
	broker.Hub().Register(agentClient)
	broker.Hub().Register(customerClient)

	ctx := context.Background()
	customer := &models.User{ID: 100, Role: models.RoleCustomer}

	if _, err := broker.Start(ctx, customer, StartRequest{Priority: "asap"}); !errors.Is(err, services.ErrInvalidPriority) {
		t.Fatalf("bad priority err = %v, want ErrInvalidPriority", err)
	}

	session, err := broker.Start(ctx, customer, StartRequest{Subject: "refund", Priority: models.PriorityHigh, RequiredSkills: []string{"billing"}})
	if err != nil {
		t.Fatal(err)
	}
	if session.Status != models.SessionPending || session.CustomerID != 100 {
		t.Fatalf("session = %+v", session)
	}

	var agentHeard bool
	for _, e := range drainEvents(agentClient) {
		if e.Type == "new_session" {
			agentHeard = true
		}
	}
	if !agentHeard {
		t.Error("agent never heard new_session")
	}
	if events := drainEvents(customerClient); len(events) != 0 {
		t.Errorf("other customer heard %d events, want 0", len(events))
	}

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	if len(publisher.events) == 0 || publisher.events[len(publisher.events)-1] != "session_started" {
		t.Errorf("published events = %v, want trailing session_started", publisher.events)
	}
}

func TestAutoAssignDrainsQueue(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	store.addAgent(onlineAgent(1, 1))
	store.addAgent(onlineAgent(2, 1))
	for i := uint(1); i <= 3; i++ {
		store.addSession(&models.ChatSession{ID: i, CustomerID: 100 + i, Status: models.SessionPending, Priority: models.PriorityMedium, StartedAt: time.Now()})
	}

	assigned, err := broker.AutoAssign(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	// Two single-slot agents: two placements, the third chat stays queued.
	if len(assigned) != 2 {
		t.Fatalf("assigned %d sessions, want 2", len(assigned))
	}
	pending, _ := store.PendingSessions(context.Background())
	if len(pending) != 1 {
		t.Fatalf("pending after auto-assign = %d, want 1", len(pending))
	}
}

func TestMultiConnectionPresence(t *testing.T) {
	t.Parallel()

	broker, _, presence, _ := testBroker()
	agent := onlineAgent(1, 5)
	tab1 := testClient("tab1", agent)
	tab2 := testClient("tab2", agent)

	ctx := context.Background()
	broker.OnConnect(ctx, tab1)
	if got := presence.current(1); got != models.AgentOnline {
		t.Fatalf("after first connect status = %q, want online", got)
	}

	broker.OnConnect(ctx, tab2)
	broker.OnDisconnect(ctx, tab1)
	// One tab is still open, the agent must stay online.
	if got := presence.current(1); got != models.AgentOnline {
		t.Fatalf("after first disconnect status = %q, want online", got)
	}

	broker.OnDisconnect(ctx, tab2)
	if got := presence.current(1); got != models.AgentOffline {
		t.Fatalf("after last disconnect status = %q, want offline", got)
	}
}

func TestUseCannedSendsRenderedText(t *testing.T) {
	t.Parallel()

	broker, store, _, _ := testBroker()
	agentID := uint(1)
	store.addAgent(onlineAgent(agentID, 5))
	store.addSession(&models.ChatSession{
		ID: 1, CustomerID: 100, AgentID: &agentID,
		Status: models.SessionActive, Priority: models.PriorityMedium, StartedAt: time.Now(),
	})

	ctx := context.Background()
	agent := onlineAgent(agentID, 5)

	msg, err := broker.UseCanned(ctx, agent, CannedRequest{SessionID: 1, ResponseID: 7, Variables: map[string]string{"name": "Dana"}})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Content != "Hi Dana!" || msg.Type != models.MessageText {
		t.Fatalf("canned message = %+v", msg)
	}

	if _, err := broker.UseCanned(ctx, agent, CannedRequest{SessionID: 1, ResponseID: 404}); !errors.Is(err, services.ErrCannedNotFound) {
		t.Fatalf("missing response err = %v, want ErrCannedNotFound", err)
	}
	if _, err := broker.UseCanned(ctx, &models.User{ID: 100, Role: models.RoleCustomer}, CannedRequest{SessionID: 1, ResponseID: 7}); !errors.Is(err, services.ErrNotParticipant) {
		t.Fatalf("customer use err = %v, want ErrNotParticipant", err)
	}
}

func TestErrorCodeMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		code string
	}{
		{services.ErrSessionNotFound, "NotFound"},
		{services.ErrAgentNotFound, "NotFound"},
		{services.ErrMessageNotFound, "NotFound"},
		{services.ErrCannedNotFound, "NotFound"},
		{services.ErrNotParticipant, "Unauthorized"},
		{services.ErrNotSessionAgent, "Unauthorized"},
		{services.ErrAlreadyAssigned, "AlreadyAssigned"},
		{services.ErrSessionClosed, "SessionClosed"},
		{services.ErrSessionNotActive, "InvalidTransition"},
		{services.ErrAgentAtCapacity, "CapacityExceeded"},
		{services.ErrAgentUnavailable, "AgentUnavailable"},
		{services.ErrInvalidMessage, "ValidationError"},
		{services.ErrInvalidPriority, "ValidationError"},
		{errors.New("boom"), "Internal"},
	}
	for _, tt := range tests {
		if got := ErrorCode(tt.err); got != tt.code {
			t.Errorf("ErrorCode(%v) = %q, want %q", tt.err, got, tt.code)
		}
	}
}
