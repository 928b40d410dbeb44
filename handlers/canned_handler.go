package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
	"github.com/AkashInfoDev/helpdesk-back-end/services"
)

// CannedHandler is the CRUD surface over canned responses. Sending one into
// a session goes through the broker's use_canned command instead.
type CannedHandler struct {
	canned *services.CannedService
}

func NewCannedHandler(canned *services.CannedService) *CannedHandler {
	return &CannedHandler{canned: canned}
}

func (h *CannedHandler) Create(c echo.Context) error {
	user := c.Get("user").(*models.User)

	var response models.CannedResponse
	if err := c.Bind(&response); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}
	if response.Title == "" || response.Content == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "title and content are required"})
	}
	response.CreatedBy = user.ID

	if err := h.canned.Create(c.Request().Context(), &response); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusCreated, response)
}

// List returns shared responses plus the caller's private ones.
func (h *CannedHandler) List(c echo.Context) error {
	user := c.Get("user").(*models.User)

	responses, err := h.canned.List(c.Request().Context(), user.ID)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, responses)
}

func (h *CannedHandler) Get(c echo.Context) error {
	user := c.Get("user").(*models.User)
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid response ID"})
	}

	response, err := h.canned.Get(c.Request().Context(), id)
	if err != nil {
		return jsonError(c, err)
	}
	if !response.UsableBy(user.ID) && user.Role != models.RoleAdmin {
		return jsonError(c, services.ErrCannedAccessDenied)
	}
	return c.JSON(http.StatusOK, response)
}

func (h *CannedHandler) Update(c echo.Context) error {
	user := c.Get("user").(*models.User)
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid response ID"})
	}

	var req struct {
		Title       *string `json:"title"`
		Content     *string `json:"content"`
		Category    *string `json:"category"`
		ShortcutKey *string `json:"shortcut_key"`
		IsShared    *bool   `json:"is_shared"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	updates := map[string]interface{}{}
	if req.Title != nil {
		updates["title"] = *req.Title
	}
	if req.Content != nil {
		updates["content"] = *req.Content
	}
	if req.Category != nil {
		updates["category"] = *req.Category
	}
	if req.ShortcutKey != nil {
		updates["shortcut_key"] = *req.ShortcutKey
	}
	if req.IsShared != nil {
		updates["is_shared"] = *req.IsShared
	}
	if len(updates) == 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "no fields to update"})
	}

	response, err := h.canned.Update(c.Request().Context(), id, user, updates)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, response)
}

func (h *CannedHandler) Delete(c echo.Context) error {
	user := c.Get("user").(*models.User)
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid response ID"})
	}

	if err := h.canned.Delete(c.Request().Context(), id, user); err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "canned response deleted"})
}

// Render previews a response with variables substituted, without sending it
// anywhere.
func (h *CannedHandler) Render(c echo.Context) error {
	user := c.Get("user").(*models.User)
	id, ok := paramID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid response ID"})
	}

	var req struct {
		Variables map[string]string `json:"variables"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request"})
	}

	content, err := h.canned.Use(c.Request().Context(), id, user.ID, req.Variables)
	if err != nil {
		return jsonError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"content": content})
}
