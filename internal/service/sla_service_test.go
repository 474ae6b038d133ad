package service

import (
	"context"
	"testing"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/notify"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slaFixture struct {
	svc      SLAService
	crRepo   *fakeCRRepo
	projects *fakeProjectRepo
	audits   *fakeAuditRepo
	notifier *fakeNotifier
	clock    *clockwork.FakeClock
}

func newSLAFixture(t *testing.T) *slaFixture {
	t.Helper()
	crRepo := newFakeCRRepo()
	projects := newFakeProjectRepo()
	audits := &fakeAuditRepo{}
	notifier := newFakeNotifier()
	clock := clockwork.NewFakeClockAt(serviceNow)

	projects.members[model.RoleImplementer] = []model.User{{Email: "implementer@example.com"}}

	svc := NewSLAService(crRepo, projects, audits, fakeTxManager{}, notifier, clock)
	return &slaFixture{
		svc:      svc,
		crRepo:   crRepo,
		projects: projects,
		audits:   audits,
		notifier: notifier,
		clock:    clock,
	}
}

func activeCR(number string, status model.CRStatus, deadline time.Time) *model.ChangeRequest {
	return &model.ChangeRequest{
		CRNumber:               number,
		ProjectID:              uuid.New(),
		Title:                  "tracked change",
		Description:            "deadline tracked",
		Status:                 status,
		RequesterID:            uuid.New(),
		Requester:              &model.User{Email: "requester@example.com"},
		ImplementationDeadline: &deadline,
	}
}

func TestSweepFiresBreachOnce(t *testing.T) {
	fx := newSLAFixture(t)
	cr := activeCR("CR-20250309-0001", model.CRStatusInProgress, serviceNow.Add(-time.Hour))
	fx.crRepo.put(cr)

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 1, result.Breaches)
	assert.Equal(t, 0, result.Failures)

	stored, _ := fx.crRepo.FindByID(context.Background(), cr.ID)
	assert.True(t, stored.IsSlaBreached)
	assert.True(t, stored.SlaBreachNotified)
	assert.Equal(t, []string{model.AuditSLABreach}, fx.audits.eventTypes())

	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindSLABreach, n.Kind)
	assert.Contains(t, n.Recipients, "requester@example.com")
	assert.Contains(t, n.Recipients, "implementer@example.com")

	// Second sweep is a no-op for this change request.
	result, err = fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Breaches)
	fx.notifier.assertNone(t)
	assert.Len(t, fx.audits.eventTypes(), 1)
}

func TestSweepFiresWarningInsideWindow(t *testing.T) {
	fx := newSLAFixture(t)
	cr := activeCR("CR-20250310-0001", model.CRStatusApproved, serviceNow.Add(6*time.Hour))
	fx.crRepo.put(cr)

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Warnings)
	assert.Equal(t, 0, result.Breaches)

	stored, _ := fx.crRepo.FindByID(context.Background(), cr.ID)
	assert.True(t, stored.SlaWarningSent)
	assert.False(t, stored.IsSlaBreached)

	n := fx.notifier.await(t)
	assert.Equal(t, notify.KindSLAWarning, n.Kind)

	// Warning is one-shot even while still inside the window.
	result, err = fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Warnings)
	fx.notifier.assertNone(t)
}

func TestSweepSkipsDeadlinesOutsideWindow(t *testing.T) {
	fx := newSLAFixture(t)
	fx.crRepo.put(activeCR("CR-20250310-0001", model.CRStatusApproved, serviceNow.Add(48*time.Hour)))

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Scanned)
	assert.Equal(t, 0, result.Warnings)
	assert.Equal(t, 0, result.Breaches)
	fx.notifier.assertNone(t)
}

func TestSweepWarningThenBreachAsClockAdvances(t *testing.T) {
	fx := newSLAFixture(t)
	cr := activeCR("CR-20250310-0001", model.CRStatusInProgress, serviceNow.Add(6*time.Hour))
	fx.crRepo.put(cr)

	_, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, notify.KindSLAWarning, fx.notifier.await(t).Kind)

	fx.clock.Advance(7 * time.Hour)

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breaches)
	assert.Equal(t, notify.KindSLABreach, fx.notifier.await(t).Kind)

	assert.Equal(t, []string{model.AuditSLAWarning, model.AuditSLABreach}, fx.audits.eventTypes())
}

func TestSweepFlagsPersistEvenIfDeliveryFails(t *testing.T) {
	fx := newSLAFixture(t)
	cr := activeCR("CR-20250309-0001", model.CRStatusImplemented, serviceNow.Add(-time.Minute))
	fx.crRepo.put(cr)

	failing := &failingNotifier{}
	fx.svc = NewSLAService(fx.crRepo, fx.projects, fx.audits, fakeTxManager{}, failing, fx.clock)

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Breaches)
	assert.Equal(t, 0, result.Failures)

	stored, _ := fx.crRepo.FindByID(context.Background(), cr.ID)
	assert.True(t, stored.SlaBreachNotified)
}

func TestSweepIsolatesPerCRFailures(t *testing.T) {
	fx := newSLAFixture(t)
	broken := activeCR("CR-20250309-0001", model.CRStatusInProgress, serviceNow.Add(-time.Hour))
	healthy := activeCR("CR-20250309-0002", model.CRStatusInProgress, serviceNow.Add(-time.Hour))
	fx.crRepo.put(broken)
	fx.crRepo.put(healthy)
	fx.crRepo.flagsFail[broken.ID] = true

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Breaches)
	assert.Equal(t, 1, result.Failures)

	stored, _ := fx.crRepo.FindByID(context.Background(), healthy.ID)
	assert.True(t, stored.IsSlaBreached)
}

func TestSweepIgnoresInactiveStatuses(t *testing.T) {
	fx := newSLAFixture(t)
	for _, status := range []model.CRStatus{model.CRStatusDraft, model.CRStatusPendingApproval, model.CRStatusClosed, model.CRStatusRejected, model.CRStatusRolledBack} {
		fx.crRepo.put(activeCR("CR-"+string(status), status, serviceNow.Add(-time.Hour)))
	}

	result, err := fx.svc.RunSweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, result.Scanned)
	assert.Equal(t, 0, result.Breaches)
	fx.notifier.assertNone(t)
}

type failingNotifier struct{}

func (failingNotifier) Send(ctx context.Context, kind notify.Kind, cr *model.ChangeRequest, recipients []string) error {
	return assert.AnError
}
