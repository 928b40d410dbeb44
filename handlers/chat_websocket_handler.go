package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Command is one client-to-server frame. Ref is an opaque client token echoed
// back on the matching Result so callers can correlate replies.
type Command struct {
	Type    string          `json:"type"`
	Ref     string          `json:"ref,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is the direct reply to a command. Broadcasts ride the Event shape
// instead and carry no ref.
type Result struct {
	Type    string      `json:"type"`
	Ref     string      `json:"ref,omitempty"`
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
}

// ErrorCode maps service errors to the stable codes of the realtime and REST
// contracts.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrAgentNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrCannedNotFound):
		return "NotFound"
	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotSessionAgent),
		errors.Is(err, services.ErrCannedAccessDenied):
		return "Unauthorized"
	case errors.Is(err, services.ErrAlreadyAssigned):
		return "AlreadyAssigned"
	case errors.Is(err, services.ErrSessionClosed):
		return "SessionClosed"
	case errors.Is(err, services.ErrSessionNotActive):
		return "InvalidTransition"
	case errors.Is(err, services.ErrAgentAtCapacity):
		return "CapacityExceeded"
	case errors.Is(err, services.ErrAgentUnavailable):
		return "AgentUnavailable"
	case errors.Is(err, services.ErrInvalidMessage),
		errors.Is(err, services.ErrInvalidStatus),
		errors.Is(err, services.ErrInvalidPriority):
		return "ValidationError"
	default:
		return "Internal"
	}
}

// HTTPStatus maps an error code to its REST status.
func HTTPStatus(code string) int {
	switch code {
	case "NotFound":
		return http.StatusNotFound
	case "Unauthorized":
		return http.StatusForbidden
	case "ValidationError":
		return http.StatusBadRequest
	case "AlreadyAssigned", "SessionClosed", "InvalidTransition",
		"CapacityExceeded", "AgentUnavailable":
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// ChatWebSocketHandler upgrades authenticated connections and runs the
// read/write pumps, handing every decoded command to the broker.
type ChatWebSocketHandler struct {
	broker *Broker
}

func NewChatWebSocketHandler(broker *Broker) *ChatWebSocketHandler {
	return &ChatWebSocketHandler{broker: broker}
}

func (h *ChatWebSocketHandler) HandleWebSocket(c echo.Context) error {
	user := c.Get("user").(*models.User)

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		ID:   uuid.New().String(),
		User: user,
		Conn: ws,
		Send: make(chan interface{}, 256),
	}

	h.broker.OnConnect(c.Request().Context(), client)

	go h.writePump(client)
	h.readPump(client)

	return nil
}

func (h *ChatWebSocketHandler) readPump(client *Client) {
	defer func() {
		h.broker.OnDisconnect(context.Background(), client)
		client.Conn.Close()
	}()

	client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	client.Conn.SetPongHandler(func(string) error {
		client.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var cmd Command
		if err := client.Conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		h.handleCommand(context.Background(), client, cmd)
	}
}

func (h *ChatWebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-client.Send:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := client.Conn.WriteJSON(message); err != nil {
				log.Printf("WriteJSON error: %v", err)
				return
			}

		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type sessionRef struct {
	SessionID uint `json:"session_id"`
}

type statusChange struct {
	Status string `json:"status"`
}

func (h *ChatWebSocketHandler) handleCommand(ctx context.Context, client *Client, cmd Command) {
	switch cmd.Type {
	case "start":
		var req StartRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		session, err := h.broker.Start(ctx, client.User, req)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		// The creator's connection is joined immediately so the first
		// agent reply is never missed.
		h.broker.Hub().JoinRoom(session.ID, client)
		h.replyOK(client, cmd, session)

	case "join":
		var req sessionRef
		if !h.decode(client, cmd, &req) {
			return
		}
		if err := h.broker.Join(ctx, client, req.SessionID); err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, map[string]interface{}{"session_id": req.SessionID})

	case "accept":
		var req sessionRef
		if !h.decode(client, cmd, &req) {
			return
		}
		session, err := h.broker.Accept(ctx, client.User, req.SessionID)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.broker.Hub().JoinRoom(session.ID, client)
		h.replyOK(client, cmd, session)

	case "send":
		var req SendRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		msg, err := h.broker.SendMessage(ctx, client.User, req)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, msg)

	case "typing":
		var req TypingRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		h.broker.Typing(client.User, req)

	case "mark_seen":
		var req SeenRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		if err := h.broker.MarkSeen(ctx, client.User, req); err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, nil)

	case "transfer":
		var req TransferRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		session, err := h.broker.Transfer(ctx, client.User, req)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, session)

	case "end":
		var req sessionRef
		if !h.decode(client, cmd, &req) {
			return
		}
		session, err := h.broker.End(ctx, client.User, req.SessionID)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, session)

	case "update_status":
		var req statusChange
		if !h.decode(client, cmd, &req) {
			return
		}
		if client.User.Role != models.RoleAgent {
			h.replyErr(client, cmd, services.ErrNotParticipant)
			return
		}
		agent, err := h.broker.UpdateStatus(ctx, client.User.ID, req.Status)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, agent)

	case "ping":
		if client.User.Role == models.RoleAgent {
			if err := h.broker.ActivityPing(ctx, client.User.ID); err != nil {
				log.Printf("activity ping failed for agent %d: %v", client.User.ID, err)
			}
		}
		h.replyOK(client, cmd, nil)

	case "use_canned":
		var req CannedRequest
		if !h.decode(client, cmd, &req) {
			return
		}
		msg, err := h.broker.UseCanned(ctx, client.User, req)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, msg)

	case "agents_status":
		workloads, err := h.broker.AgentsStatus(ctx, client.User)
		if err != nil {
			h.replyErr(client, cmd, err)
			return
		}
		h.replyOK(client, cmd, workloads)

	default:
		client.deliver(Result{
			Type:    "result",
			Ref:     cmd.Ref,
			Success: false,
			Error:   "ValidationError",
			Message: "unknown command type: " + cmd.Type,
		})
	}
}

func (h *ChatWebSocketHandler) decode(client *Client, cmd Command, dst interface{}) bool {
	if len(cmd.Payload) == 0 {
		client.deliver(Result{
			Type:    "result",
			Ref:     cmd.Ref,
			Success: false,
			Error:   "ValidationError",
			Message: "missing payload",
		})
		return false
	}
	if err := json.Unmarshal(cmd.Payload, dst); err != nil {
		client.deliver(Result{
			Type:    "result",
			Ref:     cmd.Ref,
			Success: false,
			Error:   "ValidationError",
			Message: "malformed payload",
		})
		return false
	}
	return true
}

func (h *ChatWebSocketHandler) replyOK(client *Client, cmd Command, payload interface{}) {
	client.deliver(Result{
		Type:    "result",
		Ref:     cmd.Ref,
		Success: true,
		Payload: payload,
	})
}

func (h *ChatWebSocketHandler) replyErr(client *Client, cmd Command, err error) {
	client.deliver(Result{
		Type:    "result",
		Ref:     cmd.Ref,
		Success: false,
		Error:   ErrorCode(err),
		Message: err.Error(),
	})
}
