package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/notify"
	"cms-backend/internal/repository"

	"github.com/google/uuid"
)

// --- change request repository fake ---

type fakeCRRepo struct {
	mu        sync.Mutex
	crs       map[uuid.UUID]*model.ChangeRequest
	comments  []*model.CRComment
	numbers   int
	flagsFail map[uuid.UUID]bool // ids whose UpdateSLAFlags call errors
}

func newFakeCRRepo() *fakeCRRepo {
	return &fakeCRRepo{
		crs:       map[uuid.UUID]*model.ChangeRequest{},
		flagsFail: map[uuid.UUID]bool{},
	}
}

func (f *fakeCRRepo) put(cr *model.ChangeRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cr.ID == uuid.Nil {
		cr.ID = uuid.New()
	}
	f.crs[cr.ID] = cr
}

func (f *fakeCRRepo) Create(ctx context.Context, cr *model.ChangeRequest) error {
	f.put(cr)
	return nil
}

func (f *fakeCRRepo) FindByID(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cr, ok := f.crs[id]
	if !ok {
		return nil, fmt.Errorf("%w: change request %s", model.ErrNotFound, id)
	}
	return cr, nil
}

func (f *fakeCRRepo) FindByNumber(ctx context.Context, crNumber string) (*model.ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, cr := range f.crs {
		if cr.CRNumber == crNumber {
			return cr, nil
		}
	}
	return nil, fmt.Errorf("%w: change request %s", model.ErrNotFound, crNumber)
}

func (f *fakeCRRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*model.ChangeRequest, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeCRRepo) List(ctx context.Context, filter repository.CRFilter) ([]model.ChangeRequest, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChangeRequest
	for _, cr := range f.crs {
		if len(filter.ProjectIDs) > 0 && !containsUUID(filter.ProjectIDs, cr.ProjectID) {
			continue
		}
		if filter.RequesterID != nil && cr.RequesterID != *filter.RequesterID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, cr.Status) {
			continue
		}
		if filter.Priority != "" && cr.Priority != filter.Priority {
			continue
		}
		out = append(out, *cr)
	}
	return out, int64(len(out)), nil
}

func (f *fakeCRRepo) FindActiveWithDeadline(ctx context.Context) ([]model.ChangeRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.ChangeRequest
	for _, cr := range f.crs {
		if cr.ImplementationDeadline == nil {
			continue
		}
		if containsStatus(model.ActiveStatuses, cr.Status) {
			out = append(out, *cr)
		}
	}
	return out, nil
}

func (f *fakeCRRepo) Update(ctx context.Context, cr *model.ChangeRequest) error {
	f.put(cr)
	return nil
}

func (f *fakeCRRepo) UpdateSLAFlags(ctx context.Context, id uuid.UUID, flags map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.flagsFail[id] {
		return fmt.Errorf("simulated write failure")
	}
	cr, ok := f.crs[id]
	if !ok {
		return fmt.Errorf("%w: change request %s", model.ErrNotFound, id)
	}
	if v, ok := flags["is_sla_breached"]; ok {
		cr.IsSlaBreached = v.(bool)
	}
	if v, ok := flags["sla_breach_notified"]; ok {
		cr.SlaBreachNotified = v.(bool)
	}
	if v, ok := flags["sla_warning_sent"]; ok {
		cr.SlaWarningSent = v.(bool)
	}
	return nil
}

func (f *fakeCRRepo) NextCRNumber(ctx context.Context, now time.Time) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numbers++
	return fmt.Sprintf("CR-%s-%04d", now.UTC().Format("20060102"), f.numbers), nil
}

func (f *fakeCRRepo) AddComment(ctx context.Context, comment *model.CRComment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	comment.ID = uuid.New()
	f.comments = append(f.comments, comment)
	return nil
}

func (f *fakeCRRepo) AddAttachment(ctx context.Context, att *model.CRAttachment) error {
	att.ID = uuid.New()
	return nil
}

// --- project repository fake ---

type fakeProjectRepo struct {
	projects  map[uuid.UUID]*model.Project
	createdBy map[uuid.UUID][]model.Project
	members   map[model.RoleName][]model.User
}

func newFakeProjectRepo() *fakeProjectRepo {
	return &fakeProjectRepo{
		projects:  map[uuid.UUID]*model.Project{},
		createdBy: map[uuid.UUID][]model.Project{},
		members:   map[model.RoleName][]model.User{},
	}
}

func (f *fakeProjectRepo) Create(ctx context.Context, project *model.Project) error {
	if project.ID == uuid.Nil {
		project.ID = uuid.New()
	}
	f.projects[project.ID] = project
	return nil
}

func (f *fakeProjectRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Project, error) {
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: project %s", model.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakeProjectRepo) List(ctx context.Context, page, limit int) ([]model.Project, int64, error) {
	var out []model.Project
	for _, p := range f.projects {
		out = append(out, *p)
	}
	return out, int64(len(out)), nil
}

func (f *fakeProjectRepo) ListCreatedBy(ctx context.Context, userID uuid.UUID) ([]model.Project, error) {
	return f.createdBy[userID], nil
}

func (f *fakeProjectRepo) Update(ctx context.Context, project *model.Project) error {
	f.projects[project.ID] = project
	return nil
}

func (f *fakeProjectRepo) AddMember(ctx context.Context, membership *model.ProjectMembership) error {
	return nil
}

func (f *fakeProjectRepo) RemoveMember(ctx context.Context, projectID, userID uuid.UUID) error {
	return nil
}

func (f *fakeProjectRepo) MemberUsersWithRole(ctx context.Context, projectID uuid.UUID, role model.RoleName) ([]model.User, error) {
	return f.members[role], nil
}

// --- audit repository fake ---

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []model.AuditLog
	fail    bool
}

func (f *fakeAuditRepo) Record(ctx context.Context, entry *model.AuditLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return fmt.Errorf("simulated audit failure")
	}
	f.entries = append(f.entries, *entry)
	return nil
}

func (f *fakeAuditRepo) List(ctx context.Context, filter repository.AuditFilter) ([]model.AuditLog, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.AuditLog(nil), f.entries...), int64(len(f.entries)), nil
}

func (f *fakeAuditRepo) eventTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.entries {
		out = append(out, e.EventType)
	}
	return out
}

// --- transaction manager fake ---

type fakeTxManager struct{}

func (fakeTxManager) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	return fn(ctx)
}

// --- notifier fake ---

type sentNotification struct {
	Kind       notify.Kind
	CRNumber   string
	Recipients []string
}

type fakeNotifier struct {
	sent chan sentNotification
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(chan sentNotification, 16)}
}

func (f *fakeNotifier) Send(ctx context.Context, kind notify.Kind, cr *model.ChangeRequest, recipients []string) error {
	f.sent <- sentNotification{Kind: kind, CRNumber: cr.CRNumber, Recipients: recipients}
	return nil
}

// await blocks until a notification arrives or the test times out.
func (f *fakeNotifier) await(t *testing.T) sentNotification {
	t.Helper()
	select {
	case n := <-f.sent:
		return n
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
		return sentNotification{}
	}
}

func (f *fakeNotifier) assertNone(t *testing.T) {
	t.Helper()
	select {
	case n := <-f.sent:
		t.Fatalf("unexpected notification %q for %s", n.Kind, n.CRNumber)
	case <-time.After(50 * time.Millisecond):
	}
}

// --- helpers ---

func containsUUID(haystack []uuid.UUID, needle uuid.UUID) bool {
	for _, id := range haystack {
		if id == needle {
			return true
		}
	}
	return false
}
