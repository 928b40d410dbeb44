package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

// ChatHandler is the REST surface over sessions. Mutations run through the
// broker so websocket rooms see the same events regardless of which surface
// triggered the change.
type ChatHandler struct {
	broker   *Broker
	sessions *services.SessionService
}

func NewChatHandler(broker *Broker, sessions *services.SessionService) *ChatHandler {
	return &ChatHandler{broker: broker, sessions: sessions}
}

func jsonError(c echo.Context, err error) error {
	code := ErrorCode(err)
	message := err.Error()
	if code == "Internal" {
		message = "internal error"
	}
	return c.JSON(HTTPStatus(code), map[string]string{
		"error":   code,
		"message": message,
	})
}

func paramID(c echo.Context, name string) (uint, bool) {
	id64, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		return 0, false
	}
	return uint(id64), true
}

// CreateSession opens a pending session for the calling customer.
func (h *ChatHandler) CreateSession(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "invalid request",
		})
	}

	session, err := h.broker.Start(c.Request().Context(), user, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, session)
}

// MySessions lists the caller's own sessions: the customer's sessions, or the
// agent's assigned sessions.
func (h *ChatHandler) MySessions(c echo.Context) error {
	user := c.Get("user").(*models.User)
	ctx := c.Request().Context()
	status := c.QueryParam("status")

	var (
		sessions []models.ChatSession
		err      error
	)
	if user.Role == models.RoleAgent {
		sessions, err = h.sessions.AgentSessions(ctx, user.ID, status)
	} else {
		sessions, err = h.sessions.CustomerSessions(ctx, user.ID)
	}
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// AllSessions is the admin view over every session.
func (h *ChatHandler) AllSessions(c echo.Context) error {
	sessions, err := h.sessions.AllSessions(c.Request().Context(), c.QueryParam("status"))
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// PendingQueue lists the waiting sessions in service order.
func (h *ChatHandler) PendingQueue(c echo.Context) error {
	sessions, err := h.sessions.PendingSessions(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, sessions)
}

// QueueStats summarizes the pending queue.
func (h *ChatHandler) QueueStats(c echo.Context) error {
	stats, err := h.broker.QueueStats(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

// GetSession returns one session, participants only.
func (h *ChatHandler) GetSession(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	session, err := h.sessions.GetSession(c.Request().Context(), sessionID)
	if err != nil {
		return jsonError(c, err)
	}
	if !session.Participant(user) {
		return jsonError(c, services.ErrNotParticipant)
	}
	return c.JSON(http.StatusOK, session)
}

// GetMessages returns a session's message history, participants only.
func (h *ChatHandler) GetMessages(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	limit := 50
	offset := 0
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	ctx := c.Request().Context()
	session, err := h.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return jsonError(c, err)
	}
	if !session.Participant(user) {
		return jsonError(c, services.ErrNotParticipant)
	}

	messages, err := h.sessions.SessionMessages(ctx, sessionID, limit, offset)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, messages)
}

// SendMessage posts a message over REST, mirroring the websocket send
// command.
func (h *ChatHandler) SendMessage(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	req.SessionID = sessionID

	msg, err := h.broker.SendMessage(c.Request().Context(), user, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, msg)
}

// Accept lets the calling agent claim a pending session.
func (h *ChatHandler) Accept(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	session, err := h.broker.Accept(c.Request().Context(), user, sessionID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// Assign places a pending session on a named agent. Admin only.
func (h *ChatHandler) Assign(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	var req struct {
		AgentID uint `json:"agent_id"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	session, err := h.broker.AssignTo(c.Request().Context(), user, sessionID, req.AgentID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// Transfer moves an active session to another agent.
func (h *ChatHandler) Transfer(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	var req TransferRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	req.SessionID = sessionID

	session, err := h.broker.Transfer(c.Request().Context(), user, req)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// End closes a session.
func (h *ChatHandler) End(c echo.Context) error {
	user := c.Get("user").(*models.User)
	sessionID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid session ID"})
	}

	session, err := h.broker.End(c.Request().Context(), user, sessionID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, session)
}

// AutoAssign drains the pending queue through the routing engine. Admin
// only; limit caps how many sessions one call may place.
func (h *ChatHandler) AutoAssign(c echo.Context) error {
	limit := 10
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	assigned, err := h.broker.AutoAssign(c.Request().Context(), limit)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"assigned": assigned,
		"count":    len(assigned),
	})
}

// Workloads lists every agent with derived load, for the dashboard.
func (h *ChatHandler) Workloads(c echo.Context) error {
	workloads, err := h.sessions.AgentWorkloads(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, workloads)
}
