package model

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC)

func draftCR() *ChangeRequest {
	return &ChangeRequest{
		ID:          uuid.New(),
		CRNumber:    "CR-20250310-0001",
		ProjectID:   uuid.New(),
		Title:       "Upgrade database cluster",
		Description: "Move to the new postgres major version",
		Status:      CRStatusDraft,
		Priority:    CRPriorityMedium,
		RiskLevel:   CRRiskLow,
		RequesterID: uuid.New(),
	}
}

func TestSubmit(t *testing.T) {
	cr := draftCR()

	require.NoError(t, cr.Submit(testNow))

	assert.Equal(t, CRStatusPendingApproval, cr.Status)
	require.NotNil(t, cr.SubmittedAt)
	assert.Equal(t, testNow, *cr.SubmittedAt)
}

func TestSubmitSetsSameDayDeadlineWhenMissing(t *testing.T) {
	cr := draftCR()
	require.Nil(t, cr.ImplementationDeadline)

	require.NoError(t, cr.Submit(testNow))

	require.NotNil(t, cr.ImplementationDeadline)
	want := time.Date(2025, 3, 10, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, want, *cr.ImplementationDeadline)
}

func TestSubmitKeepsExplicitDeadline(t *testing.T) {
	cr := draftCR()
	deadline := testNow.Add(72 * time.Hour)
	cr.ImplementationDeadline = &deadline

	require.NoError(t, cr.Submit(testNow))

	assert.Equal(t, deadline, *cr.ImplementationDeadline)
}

func TestSubmitRejectsNonDraft(t *testing.T) {
	cr := draftCR()
	cr.Status = CRStatusApproved

	err := cr.Submit(testNow)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApprove(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))

	approver := uuid.New()
	require.NoError(t, cr.Approve(approver, "looks good", testNow))

	assert.Equal(t, CRStatusApproved, cr.Status)
	require.NotNil(t, cr.ApproverID)
	assert.Equal(t, approver, *cr.ApproverID)
	assert.Equal(t, "looks good", cr.ApprovalComments)
	require.NotNil(t, cr.ApprovedDate)
}

func TestApproveRejectsWrongStatus(t *testing.T) {
	for _, status := range []CRStatus{CRStatusDraft, CRStatusApproved, CRStatusRejected, CRStatusClosed} {
		cr := draftCR()
		cr.Status = status
		err := cr.Approve(uuid.New(), "", testNow)
		assert.ErrorIs(t, err, ErrInvalidTransition, "status %q", status)
	}
}

func TestReject(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))

	approver := uuid.New()
	require.NoError(t, cr.Reject(approver, "insufficient impact analysis", testNow))

	assert.Equal(t, CRStatusRejected, cr.Status)
	assert.Equal(t, "insufficient impact analysis", cr.RejectionReason)
	assert.True(t, cr.IsFrozen())
}

func TestStartImplementation(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow))

	implementer := uuid.New()
	require.NoError(t, cr.StartImplementation(implementer, testNow))

	assert.Equal(t, CRStatusInProgress, cr.Status)
	require.NotNil(t, cr.ImplementerID)
	assert.Equal(t, implementer, *cr.ImplementerID)
}

func TestCompleteImplementationFromInProgress(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow))
	require.NoError(t, cr.StartImplementation(uuid.New(), testNow))

	require.NoError(t, cr.CompleteImplementation())
	assert.Equal(t, CRStatusImplemented, cr.Status)
}

func TestCompleteImplementationSkippingStart(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow))

	// Implementers may finish without an explicit start.
	require.NoError(t, cr.CompleteImplementation())
	assert.Equal(t, CRStatusImplemented, cr.Status)
}

func TestClose(t *testing.T) {
	cr := implementedCR(t)

	closer := uuid.New()
	require.NoError(t, cr.Close(closer, "all verified", "thanks", testNow))

	assert.Equal(t, CRStatusClosed, cr.Status)
	assert.Equal(t, "all verified", cr.ClosureNotes)
	assert.Equal(t, "thanks", cr.ClosureComments)
	require.NotNil(t, cr.ClosedByID)
	assert.Equal(t, closer, *cr.ClosedByID)
}

func TestCloseRequiresImplemented(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow))

	err := cr.Close(uuid.New(), "", "", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestRollbackFromImplemented(t *testing.T) {
	cr := implementedCR(t)

	by := uuid.New()
	require.NoError(t, cr.Rollback(by, "regression found", testNow))

	assert.Equal(t, CRStatusRolledBack, cr.Status)
	assert.Equal(t, "regression found", cr.RollbackReason)
	require.NotNil(t, cr.RolledBackByID)
	assert.Equal(t, by, *cr.RolledBackByID)
}

func TestRollbackFromClosed(t *testing.T) {
	cr := implementedCR(t)
	require.NoError(t, cr.Close(uuid.New(), "", "", testNow))

	require.NoError(t, cr.Rollback(uuid.New(), "rollback after closure", testNow))
	assert.Equal(t, CRStatusRolledBack, cr.Status)
}

func TestRollbackIsTerminal(t *testing.T) {
	cr := implementedCR(t)
	require.NoError(t, cr.Rollback(uuid.New(), "bad deploy", testNow))

	assert.ErrorIs(t, cr.Rollback(uuid.New(), "again", testNow), ErrInvalidTransition)
	assert.ErrorIs(t, cr.Close(uuid.New(), "", "", testNow), ErrInvalidTransition)
	assert.ErrorIs(t, cr.Submit(testNow), ErrInvalidTransition)
}

func TestRollbackRequiresImplementedOrClosed(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))

	err := cr.Rollback(uuid.New(), "too early", testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestIsFrozen(t *testing.T) {
	frozen := []CRStatus{CRStatusApproved, CRStatusImplemented, CRStatusClosed, CRStatusRejected, CRStatusRolledBack}
	editable := []CRStatus{CRStatusDraft, CRStatusPendingApproval, CRStatusInProgress}

	for _, status := range frozen {
		cr := draftCR()
		cr.Status = status
		assert.True(t, cr.IsFrozen(), "status %q should be frozen", status)
	}
	for _, status := range editable {
		cr := draftCR()
		cr.Status = status
		assert.False(t, cr.IsFrozen(), "status %q should be editable", status)
	}
}

func TestTimelineOrder(t *testing.T) {
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow.Add(time.Hour)))
	require.NoError(t, cr.StartImplementation(uuid.New(), testNow.Add(2*time.Hour)))
	require.NoError(t, cr.CompleteImplementation())
	require.NoError(t, cr.Close(uuid.New(), "", "", testNow.Add(3*time.Hour)))

	events := cr.Timeline()
	require.NotEmpty(t, events)

	var names []string
	for _, e := range events {
		names = append(names, e.Event)
	}
	assert.Contains(t, names, "submitted")
	assert.Contains(t, names, "approved")
	assert.Contains(t, names, "closed")
}

func implementedCR(t *testing.T) *ChangeRequest {
	t.Helper()
	cr := draftCR()
	require.NoError(t, cr.Submit(testNow))
	require.NoError(t, cr.Approve(uuid.New(), "", testNow))
	require.NoError(t, cr.StartImplementation(uuid.New(), testNow))
	require.NoError(t, cr.CompleteImplementation())
	return cr
}
