package service

import (
	"context"
	"fmt"

	"cms-backend/internal/model"
	"cms-backend/internal/policy"
	"cms-backend/internal/repository"
)

// AuditService exposes the append-only audit trail to authorized readers.
type AuditService interface {
	ListLogs(ctx context.Context, actor policy.Actor, filter repository.AuditFilter) ([]model.AuditLog, int64, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
}

func NewAuditService(auditRepo repository.AuditRepository) AuditService {
	return &auditService{auditRepo: auditRepo}
}

func (s *auditService) ListLogs(ctx context.Context, actor policy.Actor, filter repository.AuditFilter) ([]model.AuditLog, int64, error) {
	if err := policy.Evaluate(actor, policy.OpViewAudit, nil).Err(); err != nil {
		return nil, 0, err
	}
	logs, total, err := s.auditRepo.List(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}
