package repository

import (
	"context"
	"time"

	"cms-backend/internal/model"

	"gorm.io/gorm"
)

// AuditRepository appends and queries audit trail records. Records are
// insert-only; there is deliberately no update or delete.
type AuditRepository interface {
	Record(ctx context.Context, entry *model.AuditLog) error
	List(ctx context.Context, filter AuditFilter) ([]model.AuditLog, int64, error)
}

// AuditFilter narrows List results; zero values mean "no filter".
type AuditFilter struct {
	EventType     string
	EventCategory string
	Username      string
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}

type auditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) AuditRepository {
	return &auditRepository{db: db}
}

func (r *auditRepository) Record(ctx context.Context, entry *model.AuditLog) error {
	return GetDB(ctx, r.db).Create(entry).Error
}

func (r *auditRepository) List(ctx context.Context, filter AuditFilter) ([]model.AuditLog, int64, error) {
	db := GetDB(ctx, r.db)

	apply := func(q *gorm.DB) *gorm.DB {
		if filter.EventType != "" {
			q = q.Where("event_type = ?", filter.EventType)
		}
		if filter.EventCategory != "" {
			q = q.Where("event_category = ?", filter.EventCategory)
		}
		if filter.Username != "" {
			q = q.Where("username = ?", filter.Username)
		}
		if filter.From != nil {
			q = q.Where("created_at >= ?", *filter.From)
		}
		if filter.To != nil {
			q = q.Where("created_at <= ?", *filter.To)
		}
		return q
	}

	var total int64
	if err := apply(db.Model(&model.AuditLog{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.Limit <= 0 {
		filter.Limit = 20
	}
	offset := (filter.Page - 1) * filter.Limit

	var logs []model.AuditLog
	if err := apply(db.Preload("User")).
		Order("created_at desc").
		Offset(offset).
		Limit(filter.Limit).
		Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}
