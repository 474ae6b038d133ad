package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cms-backend/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ChangeRequestRepository is the persistence contract for change requests.
// Update goes through row locking so a request-driven transition and the SLA
// sweep never interleave writes to the same row.
type ChangeRequestRepository interface {
	Create(ctx context.Context, cr *model.ChangeRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
	FindByNumber(ctx context.Context, crNumber string) (*model.ChangeRequest, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error)
	List(ctx context.Context, filter CRFilter) ([]model.ChangeRequest, int64, error)
	FindActiveWithDeadline(ctx context.Context) ([]model.ChangeRequest, error)
	Update(ctx context.Context, cr *model.ChangeRequest) error
	UpdateSLAFlags(ctx context.Context, id uuid.UUID, flags map[string]interface{}) error
	NextCRNumber(ctx context.Context, now time.Time) (string, error)
	AddComment(ctx context.Context, comment *model.CRComment) error
	AddAttachment(ctx context.Context, att *model.CRAttachment) error
}

// CRFilter narrows List results. Zero values mean "no filter".
type CRFilter struct {
	ProjectIDs  []uuid.UUID // restrict to these projects (role scoping)
	RequesterID *uuid.UUID  // restrict to a single requester
	Statuses    []model.CRStatus
	Priority    model.CRPriority
	Page        int
	Limit       int
}

type changeRequestRepository struct {
	db *gorm.DB
}

func NewChangeRequestRepository(db *gorm.DB) ChangeRequestRepository {
	return &changeRequestRepository{db: db}
}

func (r *changeRequestRepository) Create(ctx context.Context, cr *model.ChangeRequest) error {
	return GetDB(ctx, r.db).Create(cr).Error
}

func (r *changeRequestRepository) FindByID(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	err := GetDB(ctx, r.db).
		Preload("Project").
		Preload("Requester").
		Preload("Approver").
		Preload("Implementer").
		Preload("Attachments").
		Preload("Comments").
		First(&cr, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("change request %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &cr, nil
}

func (r *changeRequestRepository) FindByNumber(ctx context.Context, crNumber string) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	err := GetDB(ctx, r.db).Preload("Project").First(&cr, "cr_number = ?", crNumber).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("change request %s: %w", crNumber, model.ErrNotFound)
		}
		return nil, err
	}
	return &cr, nil
}

// FindByIDForUpdate loads a change request with a row-level lock. Must run
// inside a transaction (see TransactionManager).
func (r *changeRequestRepository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	var cr model.ChangeRequest
	err := GetDB(ctx, r.db).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Project").
		First(&cr, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("change request %s: %w", id, model.ErrNotFound)
		}
		return nil, err
	}
	return &cr, nil
}

func (r *changeRequestRepository) List(ctx context.Context, filter CRFilter) ([]model.ChangeRequest, int64, error) {
	db := GetDB(ctx, r.db)

	apply := func(q *gorm.DB) *gorm.DB {
		if len(filter.ProjectIDs) > 0 {
			q = q.Where("project_id IN ?", filter.ProjectIDs)
		}
		if filter.RequesterID != nil {
			q = q.Where("requester_id = ?", *filter.RequesterID)
		}
		if len(filter.Statuses) > 0 {
			q = q.Where("status IN ?", filter.Statuses)
		}
		if filter.Priority != "" {
			q = q.Where("priority = ?", filter.Priority)
		}
		return q
	}

	var total int64
	if err := apply(db.Model(&model.ChangeRequest{})).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count change requests: %w", err)
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var crs []model.ChangeRequest
	err := apply(db.Preload("Project").Preload("Requester").Preload("Approver")).
		Order("created_at DESC").
		Offset(offset).
		Limit(filter.Limit).
		Find(&crs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to fetch change requests: %w", err)
	}

	return crs, total, nil
}

// FindActiveWithDeadline returns the sweep working set: approved, in-progress
// or implemented change requests that carry a deadline.
func (r *changeRequestRepository) FindActiveWithDeadline(ctx context.Context) ([]model.ChangeRequest, error) {
	var crs []model.ChangeRequest
	err := GetDB(ctx, r.db).
		Preload("Project").
		Preload("Requester").
		Where("status IN ? AND implementation_deadline IS NOT NULL", model.ActiveStatuses).
		Find(&crs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active change requests: %w", err)
	}
	return crs, nil
}

func (r *changeRequestRepository) Update(ctx context.Context, cr *model.ChangeRequest) error {
	return GetDB(ctx, r.db).Save(cr).Error
}

// UpdateSLAFlags persists only the one-shot SLA columns, avoiding a full-row
// Save that could clobber a concurrent lifecycle transition.
func (r *changeRequestRepository) UpdateSLAFlags(ctx context.Context, id uuid.UUID, flags map[string]interface{}) error {
	return GetDB(ctx, r.db).
		Model(&model.ChangeRequest{}).
		Where("id = ?", id).
		Updates(flags).Error
}

// NextCRNumber allocates the next daily-sequenced change request number,
// format CR-YYYYMMDD-NNNN. An advisory transaction lock on the day prefix
// serializes concurrent allocations so two callers cannot read the same count.
// Must run inside a transaction.
func (r *changeRequestRepository) NextCRNumber(ctx context.Context, now time.Time) (string, error) {
	db := GetDB(ctx, r.db)
	prefix := "CR-" + now.UTC().Format("20060102") + "-"

	if err := db.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", prefix).Error; err != nil {
		return "", fmt.Errorf("failed to acquire CR number lock: %w", err)
	}

	var count int64
	if err := db.Model(&model.ChangeRequest{}).
		Where("cr_number LIKE ?", prefix+"%").
		Count(&count).Error; err != nil {
		return "", fmt.Errorf("failed to count today's change requests: %w", err)
	}

	return fmt.Sprintf("%s%04d", prefix, count+1), nil
}

func (r *changeRequestRepository) AddComment(ctx context.Context, comment *model.CRComment) error {
	return GetDB(ctx, r.db).Create(comment).Error
}

func (r *changeRequestRepository) AddAttachment(ctx context.Context, att *model.CRAttachment) error {
	return GetDB(ctx, r.db).Create(att).Error
}
