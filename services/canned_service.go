package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/AkashInfoDev/helpdesk-back-end/models"
)

var (
	ErrCannedNotFound     = errors.New("canned response not found")
	ErrCannedAccessDenied = errors.New("no access to this canned response")
)

// CannedService manages reusable reply templates for agents.
type CannedService struct {
	db *gorm.DB
}

func NewCannedService(db *gorm.DB) *CannedService {
	return &CannedService{db: db}
}

func (s *CannedService) Create(ctx context.Context, response *models.CannedResponse) error {
	return s.db.WithContext(ctx).Create(response).Error
}

// List returns the responses usable by the agent: shared ones plus their own.
func (s *CannedService) List(ctx context.Context, agentID uint) ([]models.CannedResponse, error) {
	var responses []models.CannedResponse
	err := s.db.WithContext(ctx).
		Where("is_shared = ? OR created_by = ?", true, agentID).
		Order("category, title").
		Find(&responses).Error
	return responses, err
}

func (s *CannedService) Get(ctx context.Context, id uint) (*models.CannedResponse, error) {
	var response models.CannedResponse
	if err := s.db.WithContext(ctx).First(&response, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCannedNotFound
		}
		return nil, err
	}
	return &response, nil
}

// Update replaces the editable fields. Only the creator or an admin may edit.
func (s *CannedService) Update(ctx context.Context, id uint, editor *models.User, updates map[string]interface{}) (*models.CannedResponse, error) {
	response, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if response.CreatedBy != editor.ID && editor.Role != models.RoleAdmin {
		return nil, ErrCannedAccessDenied
	}
	if err := s.db.WithContext(ctx).Model(response).Updates(updates).Error; err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *CannedService) Delete(ctx context.Context, id uint, requester *models.User) error {
	response, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if response.CreatedBy != requester.ID && requester.Role != models.RoleAdmin {
		return ErrCannedAccessDenied
	}
	return s.db.WithContext(ctx).Delete(response).Error
}

// Use resolves a canned response for the agent, renders its variables and
// bumps the usage counter. The rendered text is sent as a normal chat message
// by the caller.
func (s *CannedService) Use(ctx context.Context, id, agentID uint, variables map[string]string) (string, error) {
	response, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if !response.UsableBy(agentID) {
		return "", ErrCannedAccessDenied
	}
	if err := s.db.WithContext(ctx).Model(response).
		Update("usage_count", gorm.Expr("usage_count + 1")).Error; err != nil {
		return "", err
	}
	return RenderTemplate(response.Content, variables), nil
}

// RenderTemplate substitutes {{name}} placeholders. Unknown placeholders are
// left in place so the agent can spot a missing variable before sending.
func RenderTemplate(content string, variables map[string]string) string {
	for name, value := range variables {
		content = strings.ReplaceAll(content, "{{"+name+"}}", value)
	}
	return content
}
