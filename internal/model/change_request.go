package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CRStatus enumerates the change request lifecycle states.
type CRStatus string

const (
	CRStatusDraft           CRStatus = "draft"
	CRStatusSubmitted       CRStatus = "submitted"
	CRStatusPendingApproval CRStatus = "pending_approval"
	CRStatusApproved        CRStatus = "approved"
	CRStatusRejected        CRStatus = "rejected"
	CRStatusInProgress      CRStatus = "in_progress"
	CRStatusImplemented     CRStatus = "implemented"
	CRStatusClosed          CRStatus = "closed"
	CRStatusRolledBack      CRStatus = "rolled_back"
)

// CRPriority enumerates change request priorities. Classification only; no
// effect on transitions.
type CRPriority string

const (
	CRPriorityLow      CRPriority = "low"
	CRPriorityMedium   CRPriority = "medium"
	CRPriorityHigh     CRPriority = "high"
	CRPriorityCritical CRPriority = "critical"
)

// CRRiskLevel enumerates risk classifications. High risk requires a rollback
// plan before submission (enforced by the service layer, not here).
type CRRiskLevel string

const (
	CRRiskLow    CRRiskLevel = "low"
	CRRiskMedium CRRiskLevel = "medium"
	CRRiskHigh   CRRiskLevel = "high"
)

// ActiveStatuses are the statuses the SLA sweep considers: the change request
// has been approved but not yet closed or rolled back.
var ActiveStatuses = []CRStatus{CRStatusApproved, CRStatusInProgress, CRStatusImplemented}

// frozenStatuses are statuses after which no edit is ever possible again, for
// any user. Approval freezes content permanently.
var frozenStatuses = map[CRStatus]bool{
	CRStatusApproved:    true,
	CRStatusImplemented: true,
	CRStatusClosed:      true,
	CRStatusRejected:    true,
	CRStatusRolledBack:  true,
}

// ChangeRequest is the central entity of the system. Status moves strictly
// forward along the lifecycle graph; the only way back is an explicit
// rollback, which is terminal. All temporal fields are stored in UTC.
type ChangeRequest struct {
	ID       uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	CRNumber string    `gorm:"type:varchar(20);uniqueIndex;not null" json:"cr_number"` // CR-YYYYMMDD-NNNN

	// Project reference
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index" json:"project_id"`
	Project   *Project  `gorm:"foreignKey:ProjectID" json:"project,omitempty"`

	// Basic information
	Title            string          `gorm:"type:varchar(256);not null" json:"title"`
	Description      string          `gorm:"type:text;not null" json:"description"`
	Justification    string          `gorm:"type:text" json:"justification"`
	ImpactAssessment string          `gorm:"type:text" json:"impact_assessment"`
	EstimatedCost    decimal.Decimal `gorm:"type:numeric(14,2);default:0" json:"estimated_cost"`

	// Classification
	Status    CRStatus    `gorm:"type:varchar(20);not null;default:'draft';index" json:"status"`
	Priority  CRPriority  `gorm:"type:varchar(10);not null;default:'medium'" json:"priority"`
	RiskLevel CRRiskLevel `gorm:"type:varchar(10);not null;default:'low'" json:"risk_level"`

	// Actors
	RequesterID   uuid.UUID  `gorm:"type:uuid;not null;index" json:"requester_id"`
	Requester     *User      `gorm:"foreignKey:RequesterID" json:"requester,omitempty"`
	ApproverID    *uuid.UUID `gorm:"type:uuid" json:"approver_id"`
	Approver      *User      `gorm:"foreignKey:ApproverID" json:"approver,omitempty"`
	ImplementerID *uuid.UUID `gorm:"type:uuid" json:"implementer_id"`
	Implementer   *User      `gorm:"foreignKey:ImplementerID" json:"implementer,omitempty"`

	// Lifecycle timestamps, each set exactly once by its transition
	SubmittedAt        *time.Time `json:"submitted_at"`
	ApprovedDate       *time.Time `json:"approved_date"`
	ImplementationDate *time.Time `json:"implementation_date"`
	ClosedDate         *time.Time `json:"closed_date"`

	// SLA tracking
	ImplementationDeadline *time.Time `gorm:"index" json:"implementation_deadline"`
	IsSlaBreached          bool       `gorm:"default:false" json:"is_sla_breached"`
	SlaWarningSent         bool       `gorm:"default:false" json:"sla_warning_sent"`
	SlaBreachNotified      bool       `gorm:"default:false" json:"sla_breach_notified"`

	// Approval / rejection
	ApprovalComments string `gorm:"type:text" json:"approval_comments"`
	RejectionReason  string `gorm:"type:text" json:"rejection_reason"`

	// Rollback
	RollbackPlan     string     `gorm:"type:text" json:"rollback_plan"`
	RollbackPlanFile string     `gorm:"type:varchar(512)" json:"rollback_plan_file"`
	RollbackReason   string     `gorm:"type:text" json:"rollback_reason"`
	RolledBackAt     *time.Time `json:"rolled_back_at"`
	RolledBackByID   *uuid.UUID `gorm:"type:uuid" json:"rolled_back_by_id"`
	RolledBackBy     *User      `gorm:"foreignKey:RolledBackByID" json:"rolled_back_by,omitempty"`

	// Closure
	ClosureComments string     `gorm:"type:text" json:"closure_comments"`
	ClosureNotes    string     `gorm:"type:text" json:"closure_notes"`
	ClosedByID      *uuid.UUID `gorm:"type:uuid" json:"closed_by_id"`
	ClosedBy        *User      `gorm:"foreignKey:ClosedByID" json:"closed_by,omitempty"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Attachments []CRAttachment `gorm:"foreignKey:ChangeRequestID;constraint:OnDelete:CASCADE" json:"attachments,omitempty"`
	Comments    []CRComment    `gorm:"foreignKey:ChangeRequestID;constraint:OnDelete:CASCADE" json:"comments,omitempty"`
}

// IsFrozen reports whether the change request content can never be edited
// again, regardless of who asks.
func (cr *ChangeRequest) IsFrozen() bool {
	return frozenStatuses[cr.Status]
}

// Submit moves a draft into pending approval and stamps the submission time.
// If no implementation deadline was supplied at creation, a same-day deadline
// (end of day UTC) is set so the SLA sweep always has something to track.
func (cr *ChangeRequest) Submit(now time.Time) error {
	if cr.Status != CRStatusDraft {
		return fmt.Errorf("%w: cannot submit change request in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusPendingApproval
	cr.SubmittedAt = &now
	if cr.ImplementationDeadline == nil {
		deadline := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
		cr.ImplementationDeadline = &deadline
	}
	return nil
}

// Approve records the approval decision. Capability checks happen in the
// policy layer before this is called.
func (cr *ChangeRequest) Approve(approverID uuid.UUID, comments string, now time.Time) error {
	if cr.Status != CRStatusPendingApproval {
		return fmt.Errorf("%w: cannot approve change request in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusApproved
	cr.ApproverID = &approverID
	cr.ApprovedDate = &now
	cr.ApprovalComments = comments
	return nil
}

// Reject records the rejection decision with a reason.
func (cr *ChangeRequest) Reject(approverID uuid.UUID, reason string, now time.Time) error {
	if cr.Status != CRStatusPendingApproval {
		return fmt.Errorf("%w: cannot reject change request in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusRejected
	cr.ApproverID = &approverID
	cr.ApprovedDate = &now
	cr.RejectionReason = reason
	return nil
}

// StartImplementation assigns the implementer and moves to in_progress.
func (cr *ChangeRequest) StartImplementation(implementerID uuid.UUID, now time.Time) error {
	if cr.Status != CRStatusApproved {
		return fmt.Errorf("%w: cannot start implementation in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusInProgress
	cr.ImplementerID = &implementerID
	cr.ImplementationDate = &now
	return nil
}

// CompleteImplementation marks the change as implemented. Approved is allowed
// as well as in_progress: implementers may finish without an explicit start.
func (cr *ChangeRequest) CompleteImplementation() error {
	if cr.Status != CRStatusApproved && cr.Status != CRStatusInProgress {
		return fmt.Errorf("%w: cannot complete implementation in status %q", ErrInvalidTransition, cr.Status)
	}
	cr.Status = CRStatusImplemented
	return nil
}

// Close finalizes an implemented change request. Whether the caller is
// entitled to close (assigned approver or system manager) is decided by the
// policy layer.
func (cr *ChangeRequest) Close(userID uuid.UUID, notes, comments string, now time.Time) error {
	if cr.Status != CRStatusImplemented {
		return fmt.Errorf("%w: cannot close change request in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusClosed
	cr.ClosedDate = &now
	cr.ClosedByID = &userID
	cr.ClosureNotes = notes
	cr.ClosureComments = comments
	return nil
}

// Rollback reverts an implemented or closed change request. Terminal: there
// is no way out of rolled_back.
func (cr *ChangeRequest) Rollback(userID uuid.UUID, reason string, now time.Time) error {
	if cr.Status != CRStatusImplemented && cr.Status != CRStatusClosed {
		return fmt.Errorf("%w: cannot roll back change request in status %q", ErrInvalidTransition, cr.Status)
	}
	now = now.UTC()
	cr.Status = CRStatusRolledBack
	cr.RolledBackAt = &now
	cr.RolledBackByID = &userID
	cr.RollbackReason = reason
	return nil
}

// TimelineEvent is one entry of the closure timeline.
type TimelineEvent struct {
	Event     string     `json:"event"`
	Timestamp *time.Time `json:"timestamp"`
	UserID    *uuid.UUID `json:"user_id"`
	Role      string     `json:"role"`
}

// Timeline returns the ordered key events of the change request, used for the
// closure notification.
func (cr *ChangeRequest) Timeline() []TimelineEvent {
	created := cr.CreatedAt
	requester := cr.RequesterID
	events := []TimelineEvent{
		{Event: "created", Timestamp: &created, UserID: &requester, Role: "requester"},
	}
	if cr.SubmittedAt != nil {
		events = append(events, TimelineEvent{Event: "submitted", Timestamp: cr.SubmittedAt, UserID: &requester, Role: "requester"})
	}
	if cr.ApprovedDate != nil {
		events = append(events, TimelineEvent{Event: "approved", Timestamp: cr.ApprovedDate, UserID: cr.ApproverID, Role: "approver"})
	}
	if cr.ImplementationDate != nil {
		events = append(events, TimelineEvent{Event: "implemented", Timestamp: cr.ImplementationDate, UserID: cr.ImplementerID, Role: "implementer"})
	}
	if cr.ClosedDate != nil {
		events = append(events, TimelineEvent{Event: "closed", Timestamp: cr.ClosedDate, UserID: cr.ClosedByID, Role: "approver"})
	}
	if cr.RolledBackAt != nil {
		events = append(events, TimelineEvent{Event: "rolled_back", Timestamp: cr.RolledBackAt, UserID: cr.RolledBackByID, Role: "admin"})
	}
	return events
}

// CRAttachment stores metadata for a supporting document attached to a change
// request. Actual file storage is handled outside the core.
type CRAttachment struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ChangeRequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"change_request_id"`

	Filename         string `gorm:"type:varchar(256);not null" json:"filename"`
	OriginalFilename string `gorm:"type:varchar(256);not null" json:"original_filename"`
	FilePath         string `gorm:"type:varchar(512);not null" json:"file_path"`
	FileSize         int64  `json:"file_size"`
	MimeType         string `gorm:"type:varchar(128)" json:"mime_type"`

	UploadedByID *uuid.UUID `gorm:"type:uuid" json:"uploaded_by_id"`
	UploadedBy   *User      `gorm:"foreignKey:UploadedByID" json:"uploaded_by,omitempty"`
	UploadedAt   time.Time  `gorm:"autoCreateTime" json:"uploaded_at"`
}

// CRComment is a free-text discussion entry on a change request.
type CRComment struct {
	ID              uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ChangeRequestID uuid.UUID `gorm:"type:uuid;not null;index" json:"change_request_id"`

	UserID  uuid.UUID `gorm:"type:uuid;not null" json:"user_id"`
	User    *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Comment string    `gorm:"type:text;not null" json:"comment"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
