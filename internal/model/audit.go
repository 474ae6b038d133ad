package model

import (
	"time"

	"github.com/google/uuid"
)

// Audit event categories.
const (
	AuditCategoryAuth          = "authentication"
	AuditCategoryChangeRequest = "change_request"
	AuditCategorySLA           = "sla"
	AuditCategoryAdmin         = "administration"
	AuditCategorySystem        = "system"
)

// Audit event types.
const (
	// Authentication
	AuditLoginSuccess  = "login_success"
	AuditLoginFailed   = "login_failed"
	AuditLogout        = "logout"
	AuditAccountLocked = "account_locked"

	// Change request lifecycle
	AuditCRCreated     = "cr_created"
	AuditCRUpdated     = "cr_updated"
	AuditCRSubmitted   = "cr_submitted"
	AuditCRApproved    = "cr_approved"
	AuditCRRejected    = "cr_rejected"
	AuditCRImplStarted = "cr_implementation_started"
	AuditCRImplemented = "cr_implemented"
	AuditCRClosed      = "cr_closed"
	AuditCRRolledBack  = "cr_rolled_back"
	AuditCRCommented   = "cr_commented"

	// SLA sweep
	AuditSLAWarning = "sla_warning"
	AuditSLABreach  = "sla_breach"

	// Administration
	AuditUserCreated    = "user_created"
	AuditUserUpdated    = "user_updated"
	AuditUserDeleted    = "user_deleted"
	AuditRoleUpdated    = "role_updated"
	AuditProjectCreated = "project_created"
	AuditProjectUpdated = "project_updated"
)

// AuditLog is an append-only audit trail record. Rows are never updated after
// insert; the username is denormalized so the record stays meaningful if the
// user is later removed.
type AuditLog struct {
	ID uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`

	EventType     string `gorm:"type:varchar(64);not null;index" json:"event_type"`
	EventCategory string `gorm:"type:varchar(64);not null;index" json:"event_category"`
	Description   string `gorm:"type:text" json:"description"`

	UserID   *uuid.UUID `gorm:"type:uuid;index" json:"user_id"` // nil for system-originated events (e.g. the SLA sweep)
	User     *User      `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Username string     `gorm:"type:varchar(64);index" json:"username"`

	ResourceType string `gorm:"type:varchar(64);index" json:"resource_type"` // e.g. "ChangeRequest"
	ResourceID   string `gorm:"type:varchar(64);index" json:"resource_id"`

	Success  bool   `gorm:"default:true" json:"success"`
	Metadata string `gorm:"type:jsonb" json:"metadata"` // serialized JSON payload

	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
