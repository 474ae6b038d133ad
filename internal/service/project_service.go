package service

import (
	"context"
	"fmt"

	"cms-backend/internal/model"
	"cms-backend/internal/policy"
	"cms-backend/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Code        string `json:"code" binding:"required"`
	Description string `json:"description"`
}

type UpdateProjectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    *bool  `json:"is_active"`
}

type AddMemberRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// --- Interface ---

type ProjectService interface {
	CreateProject(ctx context.Context, actor policy.Actor, req CreateProjectRequest) (*model.Project, error)
	GetProject(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.Project, error)
	ListProjects(ctx context.Context, actor policy.Actor, page, limit int) ([]model.Project, int64, error)
	UpdateProject(ctx context.Context, actor policy.Actor, id uuid.UUID, req UpdateProjectRequest) (*model.Project, error)
	AddMember(ctx context.Context, actor policy.Actor, projectID uuid.UUID, req AddMemberRequest) error
	RemoveMember(ctx context.Context, actor policy.Actor, projectID, userID uuid.UUID) error
}

type projectService struct {
	projectRepo repository.ProjectRepository
	userRepo    repository.UserRepository
	auditRepo   repository.AuditRepository
	tx          repository.TransactionManager
}

func NewProjectService(
	projectRepo repository.ProjectRepository,
	userRepo repository.UserRepository,
	auditRepo repository.AuditRepository,
	tx repository.TransactionManager,
) ProjectService {
	return &projectService{
		projectRepo: projectRepo,
		userRepo:    userRepo,
		auditRepo:   auditRepo,
		tx:          tx,
	}
}

// --- Implementation ---

func (s *projectService) CreateProject(ctx context.Context, actor policy.Actor, req CreateProjectRequest) (*model.Project, error) {
	if !actor.HasPermission(model.PermManageSystem) {
		return nil, fmt.Errorf("%w: missing permission %q", model.ErrPermissionDenied, model.PermManageSystem)
	}

	createdBy := actor.UserID
	project := &model.Project{
		Name:        req.Name,
		Code:        req.Code,
		Description: req.Description,
		CreatedByID: &createdBy,
		IsActive:    true,
	}
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.projectRepo.Create(txCtx, project); err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		// The creator is also a member, so their admin visibility rules apply.
		membership := &model.ProjectMembership{
			ProjectID: project.ID,
			UserID:    actor.UserID,
		}
		if err := s.projectRepo.AddMember(txCtx, membership); err != nil {
			return fmt.Errorf("failed to add creator membership: %w", err)
		}
		return s.audit(txCtx, model.AuditProjectCreated, actor, project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *projectService) GetProject(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.Project, error) {
	project, err := s.projectRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleAdmin && !actor.BelongsToProject(id) {
		return nil, fmt.Errorf("%w: not a member of the project", model.ErrPermissionDenied)
	}
	return project, nil
}

func (s *projectService) ListProjects(ctx context.Context, actor policy.Actor, page, limit int) ([]model.Project, int64, error) {
	projects, total, err := s.projectRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	if actor.Role == model.RoleAdmin {
		return projects, total, nil
	}

	visible := make([]model.Project, 0, len(projects))
	for _, p := range projects {
		if actor.BelongsToProject(p.ID) {
			visible = append(visible, p)
		}
	}
	return visible, int64(len(visible)), nil
}

func (s *projectService) UpdateProject(ctx context.Context, actor policy.Actor, id uuid.UUID, req UpdateProjectRequest) (*model.Project, error) {
	if !actor.HasPermission(model.PermManageSystem) {
		return nil, fmt.Errorf("%w: missing permission %q", model.ErrPermissionDenied, model.PermManageSystem)
	}
	project, err := s.projectRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Description != "" {
		project.Description = req.Description
	}
	if req.IsActive != nil {
		project.IsActive = *req.IsActive
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.projectRepo.Update(txCtx, project); err != nil {
			return fmt.Errorf("failed to update project: %w", err)
		}
		return s.audit(txCtx, model.AuditProjectUpdated, actor, project)
	})
	if err != nil {
		return nil, err
	}
	return project, nil
}

func (s *projectService) AddMember(ctx context.Context, actor policy.Actor, projectID uuid.UUID, req AddMemberRequest) error {
	if !actor.HasPermission(model.PermManageSystem) {
		return fmt.Errorf("%w: missing permission %q", model.ErrPermissionDenied, model.PermManageSystem)
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		return fmt.Errorf("%w: invalid user id", model.ErrValidation)
	}
	if _, err := s.projectRepo.GetByID(ctx, projectID); err != nil {
		return err
	}
	if _, err := s.userRepo.GetByID(ctx, userID); err != nil {
		return err
	}
	return s.projectRepo.AddMember(ctx, &model.ProjectMembership{
		ProjectID: projectID,
		UserID:    userID,
	})
}

func (s *projectService) RemoveMember(ctx context.Context, actor policy.Actor, projectID, userID uuid.UUID) error {
	if !actor.HasPermission(model.PermManageSystem) {
		return fmt.Errorf("%w: missing permission %q", model.ErrPermissionDenied, model.PermManageSystem)
	}
	return s.projectRepo.RemoveMember(ctx, projectID, userID)
}

func (s *projectService) audit(ctx context.Context, eventType string, actor policy.Actor, project *model.Project) error {
	userID := actor.UserID
	if err := s.auditRepo.Record(ctx, &model.AuditLog{
		EventType:     eventType,
		EventCategory: model.AuditCategoryAdmin,
		Description:   fmt.Sprintf("%s for project %s by %s", eventType, project.Code, actor.Username),
		UserID:        &userID,
		Username:      actor.Username,
		ResourceType:  "Project",
		ResourceID:    project.ID.String(),
		Success:       true,
		Metadata:      "{}",
	}); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}
