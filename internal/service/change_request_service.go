package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/notify"
	"cms-backend/internal/policy"
	"cms-backend/internal/repository"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// --- DTOs ---

type CreateChangeRequestDTO struct {
	ProjectID              string     `json:"project_id" binding:"required"`
	Title                  string     `json:"title" binding:"required"`
	Description            string     `json:"description" binding:"required"`
	Justification          string     `json:"justification"`
	ImpactAssessment       string     `json:"impact_assessment"`
	Priority               string     `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	RiskLevel              string     `json:"risk_level" binding:"omitempty,oneof=low medium high"`
	ImplementationDeadline *time.Time `json:"implementation_deadline"`
	RollbackPlan           string     `json:"rollback_plan"`
	EstimatedCost          string     `json:"estimated_cost"`
	SubmitNow              bool       `json:"submit_now"`
}

type UpdateChangeRequestDTO struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	Justification    string `json:"justification"`
	ImpactAssessment string `json:"impact_assessment"`
	Priority         string `json:"priority" binding:"omitempty,oneof=low medium high critical"`
	RiskLevel        string `json:"risk_level" binding:"omitempty,oneof=low medium high"`
	RollbackPlan     string `json:"rollback_plan"`
	EstimatedCost    string `json:"estimated_cost"`
}

type ApproveDTO struct {
	Comments string `json:"comments"`
}

type RejectDTO struct {
	Reason string `json:"reason" binding:"required"`
}

type CloseDTO struct {
	Notes    string `json:"notes"`
	Comments string `json:"comments"`
}

type RollbackDTO struct {
	Reason string `json:"reason" binding:"required"`
}

type AttachmentDTO struct {
	Filename         string `json:"filename" binding:"required"`
	OriginalFilename string `json:"original_filename" binding:"required"`
	FilePath         string `json:"file_path" binding:"required"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `json:"mime_type"`
}

// ListCRFilter is the caller-facing filter; role scoping is applied on top.
type ListCRFilter struct {
	ProjectID string
	Status    string
	Priority  string
	Page      int
	Limit     int
}

// --- Interface ---

// ChangeRequestService owns the change request lifecycle. Every transition
// runs policy evaluation, then the status-machine mutation and its audit
// record inside one transaction, then fire-and-forget notification dispatch.
type ChangeRequestService interface {
	Create(ctx context.Context, actor policy.Actor, req CreateChangeRequestDTO) (*model.ChangeRequest, error)
	Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error)
	GetByNumber(ctx context.Context, actor policy.Actor, crNumber string) (*model.ChangeRequest, error)
	List(ctx context.Context, actor policy.Actor, filter ListCRFilter) ([]model.ChangeRequest, int64, error)
	Update(ctx context.Context, actor policy.Actor, id uuid.UUID, req UpdateChangeRequestDTO) (*model.ChangeRequest, error)
	Submit(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error)
	Approve(ctx context.Context, actor policy.Actor, id uuid.UUID, req ApproveDTO) (*model.ChangeRequest, error)
	Reject(ctx context.Context, actor policy.Actor, id uuid.UUID, req RejectDTO) (*model.ChangeRequest, error)
	StartImplementation(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error)
	CompleteImplementation(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error)
	Close(ctx context.Context, actor policy.Actor, id uuid.UUID, req CloseDTO) (*model.ChangeRequest, error)
	Rollback(ctx context.Context, actor policy.Actor, id uuid.UUID, req RollbackDTO) (*model.ChangeRequest, error)
	AddComment(ctx context.Context, actor policy.Actor, id uuid.UUID, comment string) (*model.CRComment, error)
	AddAttachment(ctx context.Context, actor policy.Actor, id uuid.UUID, req AttachmentDTO) (*model.CRAttachment, error)
}

type changeRequestService struct {
	crRepo      repository.ChangeRequestRepository
	projectRepo repository.ProjectRepository
	auditRepo   repository.AuditRepository
	tx          repository.TransactionManager
	notifier    notify.Notifier
	clock       clockwork.Clock
}

func NewChangeRequestService(
	crRepo repository.ChangeRequestRepository,
	projectRepo repository.ProjectRepository,
	auditRepo repository.AuditRepository,
	tx repository.TransactionManager,
	notifier notify.Notifier,
	clock clockwork.Clock,
) ChangeRequestService {
	return &changeRequestService{
		crRepo:      crRepo,
		projectRepo: projectRepo,
		auditRepo:   auditRepo,
		tx:          tx,
		notifier:    notifier,
		clock:       clock,
	}
}

// --- Implementation ---

func (s *changeRequestService) Create(ctx context.Context, actor policy.Actor, req CreateChangeRequestDTO) (*model.ChangeRequest, error) {
	projectID, err := uuid.Parse(req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid project id", model.ErrValidation)
	}

	if err := policy.Evaluate(actor, policy.OpSubmit, nil).Err(); err != nil {
		return nil, err
	}
	if actor.Role != model.RoleAdmin && !actor.BelongsToProject(projectID) {
		return nil, fmt.Errorf("%w: not a member of the project", model.ErrPermissionDenied)
	}

	priority := model.CRPriority(req.Priority)
	if priority == "" {
		priority = model.CRPriorityMedium
	}
	riskLevel := model.CRRiskLevel(req.RiskLevel)
	if riskLevel == "" {
		riskLevel = model.CRRiskLow
	}

	// High-risk changes require a rollback plan before they can be submitted.
	if riskLevel == model.CRRiskHigh && req.RollbackPlan == "" {
		return nil, fmt.Errorf("%w: rollback plan is required for high-risk changes", model.ErrValidation)
	}

	cost := decimal.Zero
	if req.EstimatedCost != "" {
		cost, err = decimal.NewFromString(req.EstimatedCost)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid estimated cost", model.ErrValidation)
		}
	}

	var deadline *time.Time
	if req.ImplementationDeadline != nil {
		d := req.ImplementationDeadline.UTC()
		deadline = &d
	}

	cr := &model.ChangeRequest{
		ProjectID:              projectID,
		Title:                  req.Title,
		Description:            req.Description,
		Justification:          req.Justification,
		ImpactAssessment:       req.ImpactAssessment,
		Priority:               priority,
		RiskLevel:              riskLevel,
		ImplementationDeadline: deadline,
		RollbackPlan:           req.RollbackPlan,
		EstimatedCost:          cost,
		RequesterID:            actor.UserID,
		Status:                 model.CRStatusDraft,
	}

	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		number, numErr := s.crRepo.NextCRNumber(txCtx, s.clock.Now())
		if numErr != nil {
			return numErr
		}
		cr.CRNumber = number

		if req.SubmitNow {
			if subErr := cr.Submit(s.clock.Now()); subErr != nil {
				return subErr
			}
		}

		if createErr := s.crRepo.Create(txCtx, cr); createErr != nil {
			return fmt.Errorf("failed to create change request: %w", createErr)
		}

		if auditErr := s.audit(txCtx, model.AuditCRCreated, actor, cr, map[string]interface{}{
			"title":    cr.Title,
			"priority": cr.Priority,
			"status":   cr.Status,
		}); auditErr != nil {
			return auditErr
		}
		if req.SubmitNow {
			return s.audit(txCtx, model.AuditCRSubmitted, actor, cr, nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if cr.Status == model.CRStatusPendingApproval {
		s.dispatch(notify.KindSubmitted, cr, s.approverEmails(ctx, cr))
	}

	return s.crRepo.FindByID(ctx, cr.ID)
}

func (s *changeRequestService) Get(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error) {
	cr, err := s.crRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Evaluate(actor, policy.OpView, cr).Err(); err != nil {
		return nil, err
	}
	return cr, nil
}

func (s *changeRequestService) GetByNumber(ctx context.Context, actor policy.Actor, crNumber string) (*model.ChangeRequest, error) {
	cr, err := s.crRepo.FindByNumber(ctx, crNumber)
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, actor, cr.ID)
}

// List applies the role-based visibility rules before any caller filter:
// admins see change requests of projects they created, requesters their own,
// implementers only post-approval statuses, approvers everything in their
// projects.
func (s *changeRequestService) List(ctx context.Context, actor policy.Actor, filter ListCRFilter) ([]model.ChangeRequest, int64, error) {
	repoFilter := repository.CRFilter{
		Page:  filter.Page,
		Limit: filter.Limit,
	}

	switch actor.Role {
	case model.RoleAdmin:
		projects, err := s.projectRepo.ListCreatedBy(ctx, actor.UserID)
		if err != nil {
			return nil, 0, err
		}
		if len(projects) == 0 {
			return []model.ChangeRequest{}, 0, nil
		}
		for _, p := range projects {
			repoFilter.ProjectIDs = append(repoFilter.ProjectIDs, p.ID)
		}
	case model.RoleRequester:
		repoFilter.ProjectIDs = actorProjects(actor)
		requesterID := actor.UserID
		repoFilter.RequesterID = &requesterID
	case model.RoleImplementer:
		repoFilter.ProjectIDs = actorProjects(actor)
		repoFilter.Statuses = []model.CRStatus{
			model.CRStatusApproved,
			model.CRStatusInProgress,
			model.CRStatusImplemented,
			model.CRStatusClosed,
			model.CRStatusRolledBack,
		}
	case model.RoleApprover:
		repoFilter.ProjectIDs = actorProjects(actor)
	default:
		return nil, 0, fmt.Errorf("%w: unrecognized role %q", model.ErrPermissionDenied, actor.Role)
	}

	if actor.Role != model.RoleAdmin && len(repoFilter.ProjectIDs) == 0 {
		return []model.ChangeRequest{}, 0, nil
	}

	if filter.ProjectID != "" {
		requested, err := uuid.Parse(filter.ProjectID)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: invalid project id", model.ErrValidation)
		}
		allowed := false
		for _, id := range repoFilter.ProjectIDs {
			if id == requested {
				allowed = true
				break
			}
		}
		if !allowed {
			return []model.ChangeRequest{}, 0, nil
		}
		repoFilter.ProjectIDs = []uuid.UUID{requested}
	}

	if filter.Status != "" {
		requested := model.CRStatus(filter.Status)
		if len(repoFilter.Statuses) > 0 && !containsStatus(repoFilter.Statuses, requested) {
			return []model.ChangeRequest{}, 0, nil
		}
		repoFilter.Statuses = []model.CRStatus{requested}
	}
	if filter.Priority != "" {
		repoFilter.Priority = model.CRPriority(filter.Priority)
	}

	return s.crRepo.List(ctx, repoFilter)
}

func (s *changeRequestService) Update(ctx context.Context, actor policy.Actor, id uuid.UUID, req UpdateChangeRequestDTO) (*model.ChangeRequest, error) {
	var cr *model.ChangeRequest
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		cr, txErr = s.crRepo.FindByIDForUpdate(txCtx, id)
		if txErr != nil {
			return txErr
		}
		if pErr := policy.Evaluate(actor, policy.OpEdit, cr).Err(); pErr != nil {
			return pErr
		}

		if req.Title != "" {
			cr.Title = req.Title
		}
		if req.Description != "" {
			cr.Description = req.Description
		}
		if req.Justification != "" {
			cr.Justification = req.Justification
		}
		if req.ImpactAssessment != "" {
			cr.ImpactAssessment = req.ImpactAssessment
		}
		if req.Priority != "" {
			cr.Priority = model.CRPriority(req.Priority)
		}
		if req.RiskLevel != "" {
			cr.RiskLevel = model.CRRiskLevel(req.RiskLevel)
		}
		if req.RollbackPlan != "" {
			cr.RollbackPlan = req.RollbackPlan
		}
		if req.EstimatedCost != "" {
			cost, costErr := decimal.NewFromString(req.EstimatedCost)
			if costErr != nil {
				return fmt.Errorf("%w: invalid estimated cost", model.ErrValidation)
			}
			cr.EstimatedCost = cost
		}

		if cr.RiskLevel == model.CRRiskHigh && cr.RollbackPlan == "" && cr.RollbackPlanFile == "" {
			return fmt.Errorf("%w: rollback plan is required for high-risk changes", model.ErrValidation)
		}

		if updErr := s.crRepo.Update(txCtx, cr); updErr != nil {
			return fmt.Errorf("failed to update change request: %w", updErr)
		}
		return s.audit(txCtx, model.AuditCRUpdated, actor, cr, map[string]interface{}{"title": cr.Title})
	})
	if err != nil {
		return nil, err
	}
	return s.crRepo.FindByID(ctx, cr.ID)
}

func (s *changeRequestService) Submit(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpSubmit, model.AuditCRSubmitted, nil,
		func(cr *model.ChangeRequest) error {
			return cr.Submit(s.clock.Now())
		})
	if err != nil {
		return nil, err
	}
	s.dispatch(notify.KindSubmitted, cr, s.approverEmails(ctx, cr))
	return cr, nil
}

func (s *changeRequestService) Approve(ctx context.Context, actor policy.Actor, id uuid.UUID, req ApproveDTO) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpApprove, model.AuditCRApproved,
		map[string]interface{}{"comments": req.Comments},
		func(cr *model.ChangeRequest) error {
			return cr.Approve(actor.UserID, req.Comments, s.clock.Now())
		})
	if err != nil {
		return nil, err
	}
	s.dispatch(notify.KindApproved, cr, s.implementerEmails(ctx, cr))
	return cr, nil
}

func (s *changeRequestService) Reject(ctx context.Context, actor policy.Actor, id uuid.UUID, req RejectDTO) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpReject, model.AuditCRRejected,
		map[string]interface{}{"reason": req.Reason},
		func(cr *model.ChangeRequest) error {
			return cr.Reject(actor.UserID, req.Reason, s.clock.Now())
		})
	if err != nil {
		return nil, err
	}
	s.dispatch(notify.KindRejected, cr, s.requesterEmail(cr))
	return cr, nil
}

func (s *changeRequestService) StartImplementation(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error) {
	return s.runTransition(ctx, actor, id, policy.OpImplement, model.AuditCRImplStarted, nil,
		func(cr *model.ChangeRequest) error {
			return cr.StartImplementation(actor.UserID, s.clock.Now())
		})
}

func (s *changeRequestService) CompleteImplementation(ctx context.Context, actor policy.Actor, id uuid.UUID) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpImplement, model.AuditCRImplemented, nil,
		func(cr *model.ChangeRequest) error {
			return cr.CompleteImplementation()
		})
	if err != nil {
		return nil, err
	}
	s.dispatch(notify.KindImplComplete, cr, s.approverEmail(cr))
	return cr, nil
}

func (s *changeRequestService) Close(ctx context.Context, actor policy.Actor, id uuid.UUID, req CloseDTO) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpClose, model.AuditCRClosed,
		map[string]interface{}{"notes": req.Notes},
		func(cr *model.ChangeRequest) error {
			return cr.Close(actor.UserID, req.Notes, req.Comments, s.clock.Now())
		})
	if err != nil {
		return nil, err
	}
	s.dispatch(notify.KindClosed, cr, s.adminEmails(ctx, cr))
	return cr, nil
}

func (s *changeRequestService) Rollback(ctx context.Context, actor policy.Actor, id uuid.UUID, req RollbackDTO) (*model.ChangeRequest, error) {
	cr, err := s.runTransition(ctx, actor, id, policy.OpRollback, model.AuditCRRolledBack,
		map[string]interface{}{"reason": req.Reason},
		func(cr *model.ChangeRequest) error {
			return cr.Rollback(actor.UserID, req.Reason, s.clock.Now())
		})
	if err != nil {
		return nil, err
	}
	recipients := append(s.requesterEmail(cr), s.approverEmail(cr)...)
	s.dispatch(notify.KindRolledBack, cr, recipients)
	return cr, nil
}

func (s *changeRequestService) AddComment(ctx context.Context, actor policy.Actor, id uuid.UUID, comment string) (*model.CRComment, error) {
	if comment == "" {
		return nil, fmt.Errorf("%w: comment must not be empty", model.ErrValidation)
	}
	cr, err := s.crRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := policy.Evaluate(actor, policy.OpComment, cr).Err(); err != nil {
		return nil, err
	}

	entry := &model.CRComment{
		ChangeRequestID: cr.ID,
		UserID:          actor.UserID,
		Comment:         comment,
	}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if addErr := s.crRepo.AddComment(txCtx, entry); addErr != nil {
			return fmt.Errorf("failed to add comment: %w", addErr)
		}
		return s.audit(txCtx, model.AuditCRCommented, actor, cr, nil)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *changeRequestService) AddAttachment(ctx context.Context, actor policy.Actor, id uuid.UUID, req AttachmentDTO) (*model.CRAttachment, error) {
	cr, err := s.crRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Attachments follow the edit rules: frozen change requests accept none.
	if err := policy.Evaluate(actor, policy.OpEdit, cr).Err(); err != nil {
		return nil, err
	}
	if !actor.HasPermission(model.PermAttachFiles) {
		return nil, fmt.Errorf("%w: missing permission %q", model.ErrPermissionDenied, model.PermAttachFiles)
	}

	uploadedBy := actor.UserID
	att := &model.CRAttachment{
		ChangeRequestID:  cr.ID,
		Filename:         req.Filename,
		OriginalFilename: req.OriginalFilename,
		FilePath:         req.FilePath,
		FileSize:         req.FileSize,
		MimeType:         req.MimeType,
		UploadedByID:     &uploadedBy,
	}
	err = s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		if addErr := s.crRepo.AddAttachment(txCtx, att); addErr != nil {
			return fmt.Errorf("failed to add attachment: %w", addErr)
		}
		return s.audit(txCtx, model.AuditCRUpdated, actor, cr, map[string]interface{}{
			"attachment": req.OriginalFilename,
		})
	})
	if err != nil {
		return nil, err
	}
	return att, nil
}

// --- Helpers ---

// runTransition is the shared skeleton of every lifecycle transition: lock
// the row, evaluate policy, mutate through the state machine, persist, write
// the audit record, all in one transaction, then reload with relations.
func (s *changeRequestService) runTransition(
	ctx context.Context,
	actor policy.Actor,
	id uuid.UUID,
	op policy.Operation,
	eventType string,
	metadata map[string]interface{},
	mutate func(cr *model.ChangeRequest) error,
) (*model.ChangeRequest, error) {
	var cr *model.ChangeRequest
	err := s.tx.RunInTx(ctx, func(txCtx context.Context) error {
		var txErr error
		cr, txErr = s.crRepo.FindByIDForUpdate(txCtx, id)
		if txErr != nil {
			return txErr
		}
		if pErr := policy.Evaluate(actor, op, cr).Err(); pErr != nil {
			return pErr
		}
		if mErr := mutate(cr); mErr != nil {
			return mErr
		}
		if updErr := s.crRepo.Update(txCtx, cr); updErr != nil {
			return fmt.Errorf("failed to persist transition: %w", updErr)
		}
		return s.audit(txCtx, eventType, actor, cr, metadata)
	})
	if err != nil {
		return nil, err
	}
	return s.crRepo.FindByID(ctx, cr.ID)
}

func (s *changeRequestService) audit(ctx context.Context, eventType string, actor policy.Actor, cr *model.ChangeRequest, metadata map[string]interface{}) error {
	payload := "{}"
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			payload = string(raw)
		}
	}
	userID := actor.UserID
	entry := &model.AuditLog{
		EventType:     eventType,
		EventCategory: model.AuditCategoryChangeRequest,
		Description:   fmt.Sprintf("%s for %s by %s", eventType, cr.CRNumber, actor.Username),
		UserID:        &userID,
		Username:      actor.Username,
		ResourceType:  "ChangeRequest",
		ResourceID:    cr.ID.String(),
		Success:       true,
		Metadata:      payload,
	}
	if err := s.auditRepo.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// dispatch sends the notification without blocking the request path. Delivery
// failure is logged and never affects the committed transition.
func (s *changeRequestService) dispatch(kind notify.Kind, cr *model.ChangeRequest, recipients []string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.Send(ctx, kind, cr, recipients); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"kind":      kind,
				"cr_number": cr.CRNumber,
			}).Error("failed to send notification")
		}
	}()
}

func (s *changeRequestService) approverEmails(ctx context.Context, cr *model.ChangeRequest) []string {
	return s.memberEmails(ctx, cr, model.RoleApprover)
}

func (s *changeRequestService) implementerEmails(ctx context.Context, cr *model.ChangeRequest) []string {
	return s.memberEmails(ctx, cr, model.RoleImplementer)
}

func (s *changeRequestService) adminEmails(ctx context.Context, cr *model.ChangeRequest) []string {
	return s.memberEmails(ctx, cr, model.RoleAdmin)
}

func (s *changeRequestService) memberEmails(ctx context.Context, cr *model.ChangeRequest, role model.RoleName) []string {
	users, err := s.projectRepo.MemberUsersWithRole(ctx, cr.ProjectID, role)
	if err != nil {
		logrus.WithError(err).WithField("cr_number", cr.CRNumber).Warn("failed to resolve notification recipients")
		return nil
	}
	emails := make([]string, 0, len(users))
	for _, u := range users {
		emails = append(emails, u.Email)
	}
	return emails
}

func (s *changeRequestService) requesterEmail(cr *model.ChangeRequest) []string {
	if cr.Requester != nil {
		return []string{cr.Requester.Email}
	}
	return nil
}

func (s *changeRequestService) approverEmail(cr *model.ChangeRequest) []string {
	if cr.Approver != nil {
		return []string{cr.Approver.Email}
	}
	return nil
}

func actorProjects(actor policy.Actor) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(actor.Projects))
	for id := range actor.Projects {
		ids = append(ids, id)
	}
	return ids
}

func containsStatus(haystack []model.CRStatus, needle model.CRStatus) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
