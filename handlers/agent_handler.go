package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

// AgentHandler is the REST surface over agent availability and profile.
// Status changes route through the broker so connected clients hear the
// agent_status_changed broadcast.
type AgentHandler struct {
	broker   *Broker
	presence *services.PresenceService
}

func NewAgentHandler(broker *Broker, presence *services.PresenceService) *AgentHandler {
	return &AgentHandler{broker: broker, presence: presence}
}

// MyStatus returns the calling agent's current availability and profile.
func (h *AgentHandler) MyStatus(c echo.Context) error {
	user := c.Get("user").(*models.User)

	agent, err := h.presence.GetAgent(c.Request().Context(), user.ID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// UpdateMyStatus sets the calling agent's availability.
func (h *AgentHandler) UpdateMyStatus(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	agent, err := h.broker.UpdateStatus(c.Request().Context(), user.ID, req.Status)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// UpdateStatus is the admin override of another agent's availability.
func (h *AgentHandler) UpdateStatus(c echo.Context) error {
	agentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid agent ID"})
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	agent, err := h.broker.UpdateStatus(c.Request().Context(), agentID, req.Status)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// UpdateSkills replaces the calling agent's skill tags.
func (h *AgentHandler) UpdateSkills(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		Skills []string `json:"skills"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	agent, err := h.presence.UpdateSkills(c.Request().Context(), user.ID, req.Skills)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// UpdateCapacity sets how many concurrent chats the calling agent takes.
func (h *AgentHandler) UpdateCapacity(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var req struct {
		MaxConcurrentChats int `json:"max_concurrent_chats"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	agent, err := h.presence.UpdateMaxConcurrentChats(c.Request().Context(), user.ID, req.MaxConcurrentChats)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// UpdateAgentSkills is the admin override of another agent's skill tags.
func (h *AgentHandler) UpdateAgentSkills(c echo.Context) error {
	agentID, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid agent ID"})
	}

	var req struct {
		Skills []string `json:"skills"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	agent, err := h.presence.UpdateSkills(c.Request().Context(), agentID, req.Skills)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, agent)
}

// ConnectedAgents lists the agents currently marked online in the presence
// mirror.
func (h *AgentHandler) ConnectedAgents(c echo.Context) error {
	entries, err := h.presence.ConnectedAgents(c.Request().Context())
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"count":  len(entries),
		"agents": entries,
	})
}
