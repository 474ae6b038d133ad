package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/notify"
	"cms-backend/internal/repository"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// SweepResult summarizes one deadline sweep for logging and the monitor's
// exit report.
type SweepResult struct {
	Scanned  int `json:"scanned"`
	Warnings int `json:"warnings"`
	Breaches int `json:"breaches"`
	Failures int `json:"failures"`
}

// SLAService periodically scans active change requests against their
// implementation deadlines. Warning and breach are each fired exactly once
// per change request; the flags are persisted in the same transaction as the
// audit record, before any delivery attempt.
type SLAService interface {
	RunSweep(ctx context.Context) (SweepResult, error)
}

type slaService struct {
	crRepo      repository.ChangeRequestRepository
	projectRepo repository.ProjectRepository
	auditRepo   repository.AuditRepository
	tx          repository.TransactionManager
	notifier    notify.Notifier
	clock       clockwork.Clock
}

func NewSLAService(
	crRepo repository.ChangeRequestRepository,
	projectRepo repository.ProjectRepository,
	auditRepo repository.AuditRepository,
	tx repository.TransactionManager,
	notifier notify.Notifier,
	clock clockwork.Clock,
) SLAService {
	return &slaService{
		crRepo:      crRepo,
		projectRepo: projectRepo,
		auditRepo:   auditRepo,
		tx:          tx,
		notifier:    notifier,
		clock:       clock,
	}
}

// RunSweep evaluates every active change request with a deadline. A failure
// on one change request is logged and counted, never aborts the sweep.
func (s *slaService) RunSweep(ctx context.Context) (SweepResult, error) {
	now := s.clock.Now().UTC()
	result := SweepResult{}

	candidates, err := s.crRepo.FindActiveWithDeadline(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to load sweep candidates: %w", err)
	}
	result.Scanned = len(candidates)

	for i := range candidates {
		cr := &candidates[i]
		if err := s.evaluate(ctx, cr, now, &result); err != nil {
			result.Failures++
			logrus.WithError(err).WithField("cr_number", cr.CRNumber).Error("sweep failed for change request")
		}
	}

	logrus.WithFields(logrus.Fields{
		"scanned":  result.Scanned,
		"warnings": result.Warnings,
		"breaches": result.Breaches,
		"failures": result.Failures,
	}).Info("deadline sweep completed")
	return result, nil
}

func (s *slaService) evaluate(ctx context.Context, cr *model.ChangeRequest, now time.Time, result *SweepResult) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic evaluating %s: %v", cr.CRNumber, r)
		}
	}()

	if cr.DeadlineBreached(now) && !cr.SlaBreachNotified {
		if err := s.markBreach(ctx, cr, now); err != nil {
			return err
		}
		result.Breaches++
		s.send(notify.KindSLABreach, cr)
		return nil
	}

	if cr.NeedsDeadlineWarning(now) {
		if err := s.markWarning(ctx, cr, now); err != nil {
			return err
		}
		result.Warnings++
		s.send(notify.KindSLAWarning, cr)
	}
	return nil
}

// markBreach flips the breach flag and writes the audit record atomically.
// IsSlaBreached is monotonic: it is set here and never cleared.
func (s *slaService) markBreach(ctx context.Context, cr *model.ChangeRequest, now time.Time) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		flags := map[string]interface{}{
			"is_sla_breached":     true,
			"sla_breach_notified": true,
		}
		if err := s.crRepo.UpdateSLAFlags(txCtx, cr.ID, flags); err != nil {
			return fmt.Errorf("failed to persist breach flags: %w", err)
		}
		cr.IsSlaBreached = true
		cr.SlaBreachNotified = true
		return s.audit(txCtx, model.AuditSLABreach, cr, now)
	})
}

func (s *slaService) markWarning(ctx context.Context, cr *model.ChangeRequest, now time.Time) error {
	return s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		flags := map[string]interface{}{"sla_warning_sent": true}
		if err := s.crRepo.UpdateSLAFlags(txCtx, cr.ID, flags); err != nil {
			return fmt.Errorf("failed to persist warning flag: %w", err)
		}
		cr.SlaWarningSent = true
		return s.audit(txCtx, model.AuditSLAWarning, cr, now)
	})
}

func (s *slaService) audit(ctx context.Context, eventType string, cr *model.ChangeRequest, now time.Time) error {
	meta := map[string]interface{}{
		"status":   cr.Status,
		"deadline": cr.ImplementationDeadline,
	}
	payload, _ := json.Marshal(meta)
	entry := &model.AuditLog{
		EventType:     eventType,
		EventCategory: model.AuditCategorySLA,
		Description:   fmt.Sprintf("%s for %s at %s", eventType, cr.CRNumber, now.Format(time.RFC3339)),
		Username:      "system",
		ResourceType:  "ChangeRequest",
		ResourceID:    cr.ID.String(),
		Success:       true,
		Metadata:      string(payload),
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// send delivers to the requester and the project implementers. The flags are
// already committed, so a delivery failure only logs and the event will not
// fire again.
func (s *slaService) send(kind notify.Kind, cr *model.ChangeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var recipients []string
	if cr.Requester != nil {
		recipients = append(recipients, cr.Requester.Email)
	}
	users, err := s.projectRepo.MemberUsersWithRole(ctx, cr.ProjectID, model.RoleImplementer)
	if err != nil {
		logrus.WithError(err).WithField("cr_number", cr.CRNumber).Warn("failed to resolve sweep recipients")
	}
	for _, u := range users {
		recipients = append(recipients, u.Email)
	}

	if err := s.notifier.Send(ctx, kind, cr, recipients); err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{
			"kind":      kind,
			"cr_number": cr.CRNumber,
		}).Error("failed to send deadline notification")
	}
}
