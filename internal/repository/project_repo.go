package repository

import (
	"context"
	"errors"
	"fmt"

	"cms-backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ProjectRepository interface {
	Create(ctx context.Context, project *model.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error)
	List(ctx context.Context, page, limit int) ([]model.Project, int64, error)
	ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]model.Project, error)
	Update(ctx context.Context, project *model.Project) error
	AddMember(ctx context.Context, membership *model.ProjectMembership) error
	RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error
	MemberUsersWithRole(ctx context.Context, projectID uuid.UUID, role model.RoleName) ([]model.User, error)
}

type projectRepository struct {
	db *gorm.DB
}

func NewProjectRepository(db *gorm.DB) ProjectRepository {
	return &projectRepository{db: db}
}

func (r *projectRepository) Create(ctx context.Context, project *model.Project) error {
	return GetDB(ctx, r.db).Create(project).Error
}

func (r *projectRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	var project model.Project
	err := GetDB(ctx, r.db).Preload("Members").Preload("Members.User").First(&project, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("project %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &project, nil
}

func (r *projectRepository) List(ctx context.Context, page, limit int) ([]model.Project, int64, error) {
	var projects []model.Project
	var total int64

	db := GetDB(ctx, r.db)
	if err := db.Model(&model.Project{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * limit
	if err := db.Preload("Members").Order("created_at desc").Offset(offset).Limit(limit).Find(&projects).Error; err != nil {
		return nil, 0, err
	}

	return projects, total, nil
}

func (r *projectRepository) ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]model.Project, error) {
	var projects []model.Project
	if err := GetDB(ctx, r.db).Where("created_by_id = ?", userID).Find(&projects).Error; err != nil {
		return nil, err
	}
	return projects, nil
}

func (r *projectRepository) Update(ctx context.Context, project *model.Project) error {
	return GetDB(ctx, r.db).Save(project).Error
}

func (r *projectRepository) AddMember(ctx context.Context, membership *model.ProjectMembership) error {
	return GetDB(ctx, r.db).Create(membership).Error
}

func (r *projectRepository) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	return GetDB(ctx, r.db).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Delete(&model.ProjectMembership{}).Error
}

// MemberUsersWithRole returns active project members whose user role matches.
// Notification fan-out uses this to find approvers and implementers.
func (r *projectRepository) MemberUsersWithRole(ctx context.Context, projectID uuid.UUID, role model.RoleName) ([]model.User, error) {
	var users []model.User
	err := GetDB(ctx, r.db).
		Joins("INNER JOIN project_memberships pm ON pm.user_id = users.id").
		Where("pm.project_id = ? AND pm.is_active = true AND users.role = ?", projectID, role).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	return users, nil
}
