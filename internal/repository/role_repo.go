package repository

import (
	"context"
	"errors"
	"fmt"

	"cms-backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type RoleRepository interface {
	List(ctx context.Context) ([]model.Role, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error)
	GetByName(ctx context.Context, name model.RoleName) (*model.Role, error)
	Create(ctx context.Context, role *model.Role) error
	Update(ctx context.Context, role *model.Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	ListPermissions(ctx context.Context) ([]model.Permission, error)
	PermissionCodes(ctx context.Context, name model.RoleName) ([]string, error)
	ReplacePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error
	EnsurePermission(ctx context.Context, code, description string) (*model.Permission, error)
}

type roleRepository struct {
	db *gorm.DB
}

func NewRoleRepository(db *gorm.DB) RoleRepository {
	return &roleRepository{db: db}
}

func (r *roleRepository) List(ctx context.Context) ([]model.Role, error) {
	var roles []model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").Order("name").Find(&roles).Error; err != nil {
		return nil, err
	}
	return roles, nil
}

func (r *roleRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").First(&role, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("role %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) GetByName(ctx context.Context, name model.RoleName) (*model.Role, error) {
	var role model.Role
	if err := GetDB(ctx, r.db).Preload("Permissions").First(&role, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("role %s: %w", name, model.ErrNotFound)
		}
		return nil, err
	}
	return &role, nil
}

func (r *roleRepository) Create(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Create(role).Error
}

func (r *roleRepository) Update(ctx context.Context, role *model.Role) error {
	return GetDB(ctx, r.db).Save(role).Error
}

func (r *roleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	return GetDB(ctx, r.db).Delete(&model.Role{}, "id = ?", id).Error
}

func (r *roleRepository) ListPermissions(ctx context.Context) ([]model.Permission, error) {
	var perms []model.Permission
	if err := GetDB(ctx, r.db).Order("code").Find(&perms).Error; err != nil {
		return nil, err
	}
	return perms, nil
}

// PermissionCodes resolves a role name to its permission codes in one query.
// Used by the auth middleware's cached lookup.
func (r *roleRepository) PermissionCodes(ctx context.Context, name model.RoleName) ([]string, error) {
	var codes []string
	err := GetDB(ctx, r.db).Raw(`
		SELECT p.code FROM permissions p
		INNER JOIN role_permissions rp ON rp.permission_id = p.id
		INNER JOIN roles r ON r.id = rp.role_id
		WHERE r.name = ?
	`, name).Pluck("code", &codes).Error
	if err != nil {
		return nil, err
	}
	return codes, nil
}

func (r *roleRepository) ReplacePermissions(ctx context.Context, role *model.Role, perms []model.Permission) error {
	return GetDB(ctx, r.db).Model(role).Association("Permissions").Replace(perms)
}

// EnsurePermission returns the permission with the given code, creating it if
// missing. Used by role seeding.
func (r *roleRepository) EnsurePermission(ctx context.Context, code, description string) (*model.Permission, error) {
	db := GetDB(ctx, r.db)
	var perm model.Permission
	err := db.First(&perm, "code = ?", code).Error
	if err == nil {
		return &perm, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	perm = model.Permission{Code: code, Description: description}
	if err := db.Create(&perm).Error; err != nil {
		return nil, err
	}
	return &perm, nil
}
