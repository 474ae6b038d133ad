package policy

import (
	"testing"

	"cms-backend/internal/model"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func actorWith(role model.RoleName, projects ...uuid.UUID) Actor {
	a := Actor{
		UserID:      uuid.New(),
		Username:    "tester",
		Role:        role,
		Permissions: map[string]struct{}{},
		Projects:    map[uuid.UUID]struct{}{},
	}
	for _, code := range model.DefaultRolePermissions[role] {
		a.Permissions[code] = struct{}{}
	}
	for _, p := range projects {
		a.Projects[p] = struct{}{}
	}
	return a
}

func projectCR(projectID uuid.UUID, status model.CRStatus) *model.ChangeRequest {
	return &model.ChangeRequest{
		ID:          uuid.New(),
		ProjectID:   projectID,
		Status:      status,
		RequesterID: uuid.New(),
		Project:     &model.Project{ID: projectID},
	}
}

// --- Access matrix ---

func TestAdminAccessesOwnProjectsOnly(t *testing.T) {
	projectID := uuid.New()
	admin := actorWith(model.RoleAdmin)
	cr := projectCR(projectID, model.CRStatusDraft)

	owner := admin.UserID
	cr.Project.CreatedByID = &owner
	assert.True(t, CanAccessCR(admin, cr).Allowed)

	other := uuid.New()
	cr.Project.CreatedByID = &other
	assert.False(t, CanAccessCR(admin, cr).Allowed)
}

func TestAdminDeniedWhenProjectNotLoaded(t *testing.T) {
	admin := actorWith(model.RoleAdmin)
	cr := projectCR(uuid.New(), model.CRStatusDraft)
	cr.Project = nil

	assert.False(t, CanAccessCR(admin, cr).Allowed)
}

func TestRequesterAccessesOwnCROnly(t *testing.T) {
	projectID := uuid.New()
	requester := actorWith(model.RoleRequester, projectID)

	own := projectCR(projectID, model.CRStatusDraft)
	own.RequesterID = requester.UserID
	assert.True(t, CanAccessCR(requester, own).Allowed)

	foreign := projectCR(projectID, model.CRStatusDraft)
	assert.False(t, CanAccessCR(requester, foreign).Allowed)
}

func TestRequesterDeniedOutsideMemberProjects(t *testing.T) {
	requester := actorWith(model.RoleRequester)
	cr := projectCR(uuid.New(), model.CRStatusDraft)
	cr.RequesterID = requester.UserID

	assert.False(t, CanAccessCR(requester, cr).Allowed)
}

func TestImplementerSeesPostApprovalStatusesOnly(t *testing.T) {
	projectID := uuid.New()
	implementer := actorWith(model.RoleImplementer, projectID)

	visible := []model.CRStatus{
		model.CRStatusApproved,
		model.CRStatusInProgress,
		model.CRStatusImplemented,
		model.CRStatusClosed,
		model.CRStatusRolledBack,
	}
	hidden := []model.CRStatus{
		model.CRStatusDraft,
		model.CRStatusPendingApproval,
		model.CRStatusRejected,
	}

	for _, status := range visible {
		cr := projectCR(projectID, status)
		assert.True(t, CanAccessCR(implementer, cr).Allowed, "status %q", status)
	}
	for _, status := range hidden {
		cr := projectCR(projectID, status)
		assert.False(t, CanAccessCR(implementer, cr).Allowed, "status %q", status)
	}
}

func TestApproverSeesAllInMemberProjects(t *testing.T) {
	projectID := uuid.New()
	approver := actorWith(model.RoleApprover, projectID)

	for _, status := range []model.CRStatus{model.CRStatusDraft, model.CRStatusPendingApproval, model.CRStatusClosed} {
		cr := projectCR(projectID, status)
		assert.True(t, CanAccessCR(approver, cr).Allowed, "status %q", status)
	}

	outside := projectCR(uuid.New(), model.CRStatusPendingApproval)
	assert.False(t, CanAccessCR(approver, outside).Allowed)
}

func TestUnknownRoleDenied(t *testing.T) {
	projectID := uuid.New()
	stranger := actorWith("auditor", projectID)
	cr := projectCR(projectID, model.CRStatusDraft)

	decision := CanAccessCR(stranger, cr)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "unrecognized role")
}

// --- Edit guard ---

func TestFrozenStatusesRejectEditsForEveryone(t *testing.T) {
	projectID := uuid.New()
	frozen := []model.CRStatus{
		model.CRStatusApproved,
		model.CRStatusImplemented,
		model.CRStatusClosed,
		model.CRStatusRejected,
		model.CRStatusRolledBack,
	}

	admin := actorWith(model.RoleAdmin)
	for _, status := range frozen {
		cr := projectCR(projectID, status)
		cr.RequesterID = admin.UserID
		assert.False(t, CanEditCR(admin, cr).Allowed, "status %q", status)
	}
}

func TestRequesterEditsOwnDraft(t *testing.T) {
	projectID := uuid.New()
	requester := actorWith(model.RoleRequester, projectID)
	cr := projectCR(projectID, model.CRStatusDraft)
	cr.RequesterID = requester.UserID

	assert.True(t, CanEditCR(requester, cr).Allowed)
}

func TestSystemManagerEditsForeignDraft(t *testing.T) {
	projectID := uuid.New()
	admin := actorWith(model.RoleAdmin, projectID)
	cr := projectCR(projectID, model.CRStatusPendingApproval)

	assert.True(t, CanEditCR(admin, cr).Allowed)
}

func TestOtherUsersCannotEdit(t *testing.T) {
	projectID := uuid.New()
	implementer := actorWith(model.RoleImplementer, projectID)
	cr := projectCR(projectID, model.CRStatusDraft)

	assert.False(t, CanEditCR(implementer, cr).Allowed)
}

// --- Evaluate ---

func TestEvaluateSubmitRequiresRequesterIdentity(t *testing.T) {
	projectID := uuid.New()
	a := actorWith(model.RoleRequester, projectID)

	own := projectCR(projectID, model.CRStatusDraft)
	own.RequesterID = a.UserID
	assert.True(t, Evaluate(a, OpSubmit, own).Allowed)

	foreign := projectCR(projectID, model.CRStatusDraft)
	assert.False(t, Evaluate(a, OpSubmit, foreign).Allowed)
}

func TestEvaluateApproveRequiresPermission(t *testing.T) {
	projectID := uuid.New()
	cr := projectCR(projectID, model.CRStatusPendingApproval)

	approver := actorWith(model.RoleApprover, projectID)
	assert.True(t, Evaluate(approver, OpApprove, cr).Allowed)
	assert.True(t, Evaluate(approver, OpReject, cr).Allowed)

	requester := actorWith(model.RoleRequester, projectID)
	assert.False(t, Evaluate(requester, OpApprove, cr).Allowed)
}

func TestEvaluateCloseAssignedApproverOrSystemManager(t *testing.T) {
	projectID := uuid.New()
	cr := projectCR(projectID, model.CRStatusImplemented)

	assigned := actorWith(model.RoleApprover, projectID)
	approverID := assigned.UserID
	cr.ApproverID = &approverID
	assert.True(t, Evaluate(assigned, OpClose, cr).Allowed)

	otherApprover := actorWith(model.RoleApprover, projectID)
	assert.False(t, Evaluate(otherApprover, OpClose, cr).Allowed)

	admin := actorWith(model.RoleAdmin, projectID)
	assert.True(t, Evaluate(admin, OpClose, cr).Allowed)
}

func TestEvaluateRollbackRequiresPermission(t *testing.T) {
	projectID := uuid.New()
	cr := projectCR(projectID, model.CRStatusImplemented)

	admin := actorWith(model.RoleAdmin, projectID)
	assert.True(t, Evaluate(admin, OpRollback, cr).Allowed)

	implementer := actorWith(model.RoleImplementer, projectID)
	assert.False(t, Evaluate(implementer, OpRollback, cr).Allowed)
}

func TestEvaluateUnknownOperationDenied(t *testing.T) {
	a := actorWith(model.RoleAdmin)
	assert.False(t, Evaluate(a, Operation("purge"), nil).Allowed)
}

func TestDecisionErrWrapsPermissionDenied(t *testing.T) {
	d := deny("missing permission %q", "approve_cr")
	err := d.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrPermissionDenied)
	assert.NoError(t, allow().Err())
}
