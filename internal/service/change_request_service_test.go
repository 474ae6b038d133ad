package service

import (
	"context"
	"testing"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/notify"
	"cms-backend/internal/policy"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var serviceNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

type crServiceFixture struct {
	svc       ChangeRequestService
	crRepo    *fakeCRRepo
	projects  *fakeProjectRepo
	audits    *fakeAuditRepo
	notifier  *fakeNotifier
	clock     *clockwork.FakeClock
	projectID uuid.UUID
}

func newCRServiceFixture(t *testing.T) *crServiceFixture {
	t.Helper()
	crRepo := newFakeCRRepo()
	projects := newFakeProjectRepo()
	audits := &fakeAuditRepo{}
	notifier := newFakeNotifier()
	clock := clockwork.NewFakeClockAt(serviceNow)

	projectID := uuid.New()
	projects.projects[projectID] = &model.Project{ID: projectID, Name: "Core Platform", Code: "CORE"}
	projects.members[model.RoleApprover] = []model.User{{Email: "approver@example.com"}}
	projects.members[model.RoleImplementer] = []model.User{{Email: "implementer@example.com"}}
	projects.members[model.RoleAdmin] = []model.User{{Email: "admin@example.com"}}

	svc := NewChangeRequestService(crRepo, projects, audits, fakeTxManager{}, notifier, clock)
	return &crServiceFixture{
		svc:       svc,
		crRepo:    crRepo,
		projects:  projects,
		audits:    audits,
		notifier:  notifier,
		clock:     clock,
		projectID: projectID,
	}
}

func memberActor(role model.RoleName, projectID uuid.UUID) policy.Actor {
	a := policy.Actor{
		UserID:      uuid.New(),
		Username:    string(role) + "-user",
		Role:        role,
		Permissions: map[string]struct{}{},
		Projects:    map[uuid.UUID]struct{}{projectID: {}},
	}
	for _, code := range model.DefaultRolePermissions[role] {
		a.Permissions[code] = struct{}{}
	}
	return a
}

func TestCreateDraft(t *testing.T) {
	fx := newCRServiceFixture(t)
	requester := memberActor(model.RoleRequester, fx.projectID)

	cr, err := fx.svc.Create(context.Background(), requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Rotate service credentials",
		Description: "Rotate all API keys for the core platform",
	})
	require.NoError(t, err)

	assert.Equal(t, model.CRStatusDraft, cr.Status)
	assert.Equal(t, "CR-20250310-0001", cr.CRNumber)
	assert.Equal(t, model.CRPriorityMedium, cr.Priority)
	assert.Equal(t, requester.UserID, cr.RequesterID)
	assert.Equal(t, []string{model.AuditCRCreated}, fx.audits.eventTypes())
	fx.notifier.assertNone(t)
}

func TestCreateNumbersAreSequentialPerDay(t *testing.T) {
	fx := newCRServiceFixture(t)
	requester := memberActor(model.RoleRequester, fx.projectID)

	dto := CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "First",
		Description: "first change",
	}
	first, err := fx.svc.Create(context.Background(), requester, dto)
	require.NoError(t, err)
	dto.Title = "Second"
	second, err := fx.svc.Create(context.Background(), requester, dto)
	require.NoError(t, err)

	assert.Equal(t, "CR-20250310-0001", first.CRNumber)
	assert.Equal(t, "CR-20250310-0002", second.CRNumber)
}

func TestCreateHighRiskRequiresRollbackPlan(t *testing.T) {
	fx := newCRServiceFixture(t)
	requester := memberActor(model.RoleRequester, fx.projectID)

	_, err := fx.svc.Create(context.Background(), requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Replace load balancer",
		Description: "Swap the edge LB",
		RiskLevel:   "high",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestCreateRejectsNonMember(t *testing.T) {
	fx := newCRServiceFixture(t)
	outsider := memberActor(model.RoleRequester, uuid.New())

	_, err := fx.svc.Create(context.Background(), outsider, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Sneak in",
		Description: "should fail",
	})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestCreateSubmitNowNotifiesApprovers(t *testing.T) {
	fx := newCRServiceFixture(t)
	requester := memberActor(model.RoleRequester, fx.projectID)

	cr, err := fx.svc.Create(context.Background(), requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Patch kernel",
		Description: "Apply security patches",
		SubmitNow:   true,
	})
	require.NoError(t, err)

	assert.Equal(t, model.CRStatusPendingApproval, cr.Status)
	require.NotNil(t, cr.SubmittedAt)
	assert.Equal(t, []string{model.AuditCRCreated, model.AuditCRSubmitted}, fx.audits.eventTypes())

	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindSubmitted, n.Kind)
	assert.Equal(t, []string{"approver@example.com"}, n.Recipients)
}

func TestFullLifecycle(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)
	approver := memberActor(model.RoleApprover, fx.projectID)
	implementer := memberActor(model.RoleImplementer, fx.projectID)

	cr, err := fx.svc.Create(ctx, requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Migrate queue broker",
		Description: "Move to the new cluster",
	})
	require.NoError(t, err)

	cr, err = fx.svc.Submit(ctx, requester, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusPendingApproval, cr.Status)
	fx.notifier.await(t)

	cr, err = fx.svc.Approve(ctx, approver, cr.ID, ApproveDTO{Comments: "approved for the weekend window"})
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusApproved, cr.Status)
	require.NotNil(t, cr.ApproverID)
	assert.Equal(t, approver.UserID, *cr.ApproverID)
	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindApproved, n.Kind)
	assert.Equal(t, []string{"implementer@example.com"}, n.Recipients)

	cr, err = fx.svc.StartImplementation(ctx, implementer, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusInProgress, cr.Status)

	cr, err = fx.svc.CompleteImplementation(ctx, implementer, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusImplemented, cr.Status)
	fx.notifier.await(t)

	cr, err = fx.svc.Close(ctx, approver, cr.ID, CloseDTO{Notes: "verified in production"})
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusClosed, cr.Status)
	n = fx.notifier.await(t)
	assert.Equal(t, notify.KindClosed, n.Kind)

	assert.Equal(t, []string{
		model.AuditCRCreated,
		model.AuditCRSubmitted,
		model.AuditCRApproved,
		model.AuditCRImplStarted,
		model.AuditCRImplemented,
		model.AuditCRClosed,
	}, fx.audits.eventTypes())
}

func TestApproveWrongStateIsConflictNotPermission(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)
	approver := memberActor(model.RoleApprover, fx.projectID)

	cr, err := fx.svc.Create(ctx, requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Still a draft",
		Description: "not yet submitted",
	})
	require.NoError(t, err)

	_, err = fx.svc.Approve(ctx, approver, cr.ID, ApproveDTO{})
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.NotErrorIs(t, err, model.ErrPermissionDenied)
}

func TestApproveWithoutPermissionDenied(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)

	cr, err := fx.svc.Create(ctx, requester, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Self approval attempt",
		Description: "requester tries to approve",
		SubmitNow:   true,
	})
	require.NoError(t, err)
	fx.notifier.await(t)

	_, err = fx.svc.Approve(ctx, requester, cr.ID, ApproveDTO{})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	stored, err := fx.crRepo.FindByID(ctx, cr.ID)
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusPendingApproval, stored.Status)
}

func TestRejectNotifiesRequester(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	approver := memberActor(model.RoleApprover, fx.projectID)

	cr := &model.ChangeRequest{
		CRNumber:    "CR-20250310-0099",
		ProjectID:   fx.projectID,
		Title:       "Risky change",
		Description: "to be rejected",
		Status:      model.CRStatusPendingApproval,
		RequesterID: uuid.New(),
		Requester:   &model.User{Email: "requester@example.com"},
	}
	fx.crRepo.put(cr)

	updated, err := fx.svc.Reject(ctx, approver, cr.ID, RejectDTO{Reason: "no rollback plan"})
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusRejected, updated.Status)
	assert.Equal(t, "no rollback plan", updated.RejectionReason)

	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindRejected, n.Kind)
	assert.Equal(t, []string{"requester@example.com"}, n.Recipients)
}

func TestCloseOnlyAssignedApproverOrManager(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	assigned := memberActor(model.RoleApprover, fx.projectID)
	other := memberActor(model.RoleApprover, fx.projectID)

	approverID := assigned.UserID
	cr := &model.ChangeRequest{
		CRNumber:    "CR-20250310-0042",
		ProjectID:   fx.projectID,
		Title:       "Done change",
		Description: "implemented",
		Status:      model.CRStatusImplemented,
		RequesterID: uuid.New(),
		ApproverID:  &approverID,
	}
	fx.crRepo.put(cr)

	_, err := fx.svc.Close(ctx, other, cr.ID, CloseDTO{})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)

	updated, err := fx.svc.Close(ctx, assigned, cr.ID, CloseDTO{Notes: "done"})
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusClosed, updated.Status)
	fx.notifier.await(t)
}

func TestRollbackFromClosedState(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	admin := memberActor(model.RoleAdmin, fx.projectID)

	cr := &model.ChangeRequest{
		CRNumber:    "CR-20250310-0007",
		ProjectID:   fx.projectID,
		Title:       "Bad deploy",
		Description: "closed but broken",
		Status:      model.CRStatusClosed,
		RequesterID: uuid.New(),
		Requester:   &model.User{Email: "requester@example.com"},
	}
	fx.crRepo.put(cr)

	updated, err := fx.svc.Rollback(ctx, admin, cr.ID, RollbackDTO{Reason: "regression in checkout"})
	require.NoError(t, err)
	assert.Equal(t, model.CRStatusRolledBack, updated.Status)
	assert.Equal(t, "regression in checkout", updated.RollbackReason)

	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindRolledBack, n.Kind)
	assert.Contains(t, n.Recipients, "requester@example.com")

	// Terminal: no way out.
	_, err = fx.svc.StartImplementation(ctx, admin, cr.ID)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestGetEnforcesAccessMatrix(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	owner := memberActor(model.RoleRequester, fx.projectID)
	stranger := memberActor(model.RoleRequester, fx.projectID)

	cr, err := fx.svc.Create(ctx, owner, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Private draft",
		Description: "only mine",
	})
	require.NoError(t, err)

	_, err = fx.svc.Get(ctx, owner, cr.ID)
	require.NoError(t, err)

	_, err = fx.svc.Get(ctx, stranger, cr.ID)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestListScopesImplementerToPostApproval(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	implementer := memberActor(model.RoleImplementer, fx.projectID)

	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0001", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: uuid.New(),
	})
	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0002", ProjectID: fx.projectID,
		Status: model.CRStatusApproved, RequesterID: uuid.New(),
	})

	crs, total, err := fx.svc.List(ctx, implementer, ListCRFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, crs, 1)
	assert.Equal(t, model.CRStatusApproved, crs[0].Status)
}

func TestListStatusFilterCannotWidenImplementerScope(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	implementer := memberActor(model.RoleImplementer, fx.projectID)

	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0001", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: uuid.New(),
	})
	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0002", ProjectID: fx.projectID,
		Status: model.CRStatusPendingApproval, RequesterID: uuid.New(),
	})
	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0003", ProjectID: fx.projectID,
		Status: model.CRStatusApproved, RequesterID: uuid.New(),
	})

	for _, hidden := range []string{"draft", "pending_approval", "rejected"} {
		crs, total, err := fx.svc.List(ctx, implementer, ListCRFilter{Status: hidden})
		require.NoError(t, err)
		assert.Equal(t, int64(0), total, "status %q must stay hidden", hidden)
		assert.Empty(t, crs)
	}

	crs, total, err := fx.svc.List(ctx, implementer, ListCRFilter{Status: "approved"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, crs, 1)
	assert.Equal(t, model.CRStatusApproved, crs[0].Status)
}

func TestListStatusFilterKeepsRequesterOwnership(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)

	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0001", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: requester.UserID,
	})
	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0002", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: uuid.New(),
	})

	crs, total, err := fx.svc.List(ctx, requester, ListCRFilter{Status: "draft"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, crs, 1)
	assert.Equal(t, requester.UserID, crs[0].RequesterID)
}

func TestListRequesterSeesOnlyOwn(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)

	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0001", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: requester.UserID,
	})
	fx.crRepo.put(&model.ChangeRequest{
		CRNumber: "CR-20250310-0002", ProjectID: fx.projectID,
		Status: model.CRStatusDraft, RequesterID: uuid.New(),
	})

	crs, _, err := fx.svc.List(ctx, requester, ListCRFilter{})
	require.NoError(t, err)
	require.Len(t, crs, 1)
	assert.Equal(t, requester.UserID, crs[0].RequesterID)
}

func TestUpdateFrozenRejected(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	requester := memberActor(model.RoleRequester, fx.projectID)

	cr := &model.ChangeRequest{
		CRNumber:    "CR-20250310-0011",
		ProjectID:   fx.projectID,
		Title:       "Approved already",
		Description: "frozen content",
		Status:      model.CRStatusApproved,
		RequesterID: requester.UserID,
	}
	fx.crRepo.put(cr)

	_, err := fx.svc.Update(ctx, requester, cr.ID, UpdateChangeRequestDTO{Title: "sneaky edit"})
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
}

func TestAddCommentRequiresAccessAndContent(t *testing.T) {
	fx := newCRServiceFixture(t)
	ctx := context.Background()
	owner := memberActor(model.RoleRequester, fx.projectID)

	cr, err := fx.svc.Create(ctx, owner, CreateChangeRequestDTO{
		ProjectID:   fx.projectID.String(),
		Title:       "Discussion",
		Description: "talk about it",
	})
	require.NoError(t, err)

	_, err = fx.svc.AddComment(ctx, owner, cr.ID, "")
	assert.ErrorIs(t, err, model.ErrValidation)

	comment, err := fx.svc.AddComment(ctx, owner, cr.ID, "please expedite")
	require.NoError(t, err)
	assert.Equal(t, owner.UserID, comment.UserID)
	assert.Contains(t, fx.audits.eventTypes(), model.AuditCRCommented)
}
