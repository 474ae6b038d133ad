package service

import (
	"context"
	"fmt"

	"cms-backend/internal/model"
	"cms-backend/internal/repository"

	"github.com/google/uuid"
)

// --- DTOs ---

type CreateRoleRequest struct {
	Name        string   `json:"name" binding:"required"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"` // permission codes
}

type UpdateRoleRequest struct {
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
}

type RoleResponse struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	IsSystem    bool     `json:"is_system"`
	Permissions []string `json:"permissions"`
	CreatedAt   string   `json:"created_at"`
}

type PermissionResponse struct {
	ID          string `json:"id"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

// --- Interface ---

type RoleService interface {
	ListRoles(ctx context.Context) ([]RoleResponse, error)
	GetRole(ctx context.Context, id uuid.UUID) (*RoleResponse, error)
	CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error)
	UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest) (*RoleResponse, error)
	DeleteRole(ctx context.Context, id uuid.UUID) error
	ListPermissions(ctx context.Context) ([]PermissionResponse, error)
	SeedDefaultRolesAndPermissions(ctx context.Context) error
}

type roleService struct {
	roleRepo  repository.RoleRepository
	auditRepo repository.AuditRepository
	tx        repository.TransactionManager
}

func NewRoleService(roleRepo repository.RoleRepository, auditRepo repository.AuditRepository, tx repository.TransactionManager) RoleService {
	return &roleService{roleRepo: roleRepo, auditRepo: auditRepo, tx: tx}
}

// --- Implementation ---

func toRoleResponse(r model.Role) RoleResponse {
	codes := make([]string, 0, len(r.Permissions))
	for _, p := range r.Permissions {
		codes = append(codes, p.Code)
	}
	return RoleResponse{
		ID:          r.ID.String(),
		Name:        string(r.Name),
		Description: r.Description,
		IsSystem:    r.IsSystem,
		Permissions: codes,
		CreatedAt:   r.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (s *roleService) ListRoles(ctx context.Context) ([]RoleResponse, error) {
	roles, err := s.roleRepo.List(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]RoleResponse, 0, len(roles))
	for _, r := range roles {
		res = append(res, toRoleResponse(r))
	}
	return res, nil
}

func (s *roleService) GetRole(ctx context.Context, id uuid.UUID) (*RoleResponse, error) {
	role, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := toRoleResponse(*role)
	return &res, nil
}

func (s *roleService) CreateRole(ctx context.Context, req CreateRoleRequest) (*RoleResponse, error) {
	if _, err := s.roleRepo.GetByName(ctx, model.RoleName(req.Name)); err == nil {
		return nil, fmt.Errorf("%w: role %q already exists", model.ErrValidation, req.Name)
	}

	role := &model.Role{
		Name:        model.RoleName(req.Name),
		Description: req.Description,
	}
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.roleRepo.Create(txCtx, role); err != nil {
			return fmt.Errorf("failed to create role: %w", err)
		}
		return s.replacePermissions(txCtx, role, req.Permissions)
	})
	if err != nil {
		return nil, err
	}

	res := toRoleResponse(*role)
	return &res, nil
}

func (s *roleService) UpdateRole(ctx context.Context, id uuid.UUID, req UpdateRoleRequest) (*RoleResponse, error) {
	role, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if req.Description != "" {
			role.Description = req.Description
			if err := s.roleRepo.Update(txCtx, role); err != nil {
				return fmt.Errorf("failed to update role: %w", err)
			}
		}
		if req.Permissions != nil {
			if err := s.replacePermissions(txCtx, role, req.Permissions); err != nil {
				return err
			}
		}
		return s.auditRepo.Record(txCtx, &model.AuditLog{
			EventType:     model.AuditRoleUpdated,
			EventCategory: model.AuditCategoryAdmin,
			Description:   fmt.Sprintf("role %s updated", role.Name),
			Username:      "system",
			ResourceType:  "Role",
			ResourceID:    role.ID.String(),
			Success:       true,
			Metadata:      "{}",
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := toRoleResponse(*updated)
	return &res, nil
}

// DeleteRole refuses to remove built-in roles.
func (s *roleService) DeleteRole(ctx context.Context, id uuid.UUID) error {
	role, err := s.roleRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if role.IsSystem {
		return fmt.Errorf("%w: system roles cannot be deleted", model.ErrValidation)
	}
	return s.roleRepo.Delete(ctx, id)
}

func (s *roleService) ListPermissions(ctx context.Context) ([]PermissionResponse, error) {
	perms, err := s.roleRepo.ListPermissions(ctx)
	if err != nil {
		return nil, err
	}
	res := make([]PermissionResponse, 0, len(perms))
	for _, p := range perms {
		res = append(res, PermissionResponse{
			ID:          p.ID.String(),
			Code:        p.Code,
			Description: p.Description,
		})
	}
	return res, nil
}

func (s *roleService) replacePermissions(ctx context.Context, role *model.Role, codes []string) error {
	perms := make([]model.Permission, 0, len(codes))
	for _, code := range codes {
		p, err := s.roleRepo.EnsurePermission(ctx, code, "")
		if err != nil {
			return fmt.Errorf("failed to resolve permission %q: %w", code, err)
		}
		perms = append(perms, *p)
	}
	return s.roleRepo.ReplacePermissions(ctx, role, perms)
}

// SeedDefaultRolesAndPermissions installs the built-in roles and their
// permission bundles. Idempotent: existing roles keep their current
// permission assignments.
func (s *roleService) SeedDefaultRolesAndPermissions(ctx context.Context) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		for name, codes := range model.DefaultRolePermissions {
			if _, err := s.roleRepo.GetByName(txCtx, name); err == nil {
				continue
			}
			role := &model.Role{
				Name:        name,
				Description: fmt.Sprintf("built-in %s role", name),
				IsSystem:    true,
			}
			if err := s.roleRepo.Create(txCtx, role); err != nil {
				return fmt.Errorf("failed to seed role %q: %w", name, err)
			}
			if err := s.replacePermissions(txCtx, role, codes); err != nil {
				return err
			}
		}
		return nil
	})
}
