package model

import (
	"time"

	"github.com/google/uuid"
)

// RoleName is the closed set of role classifications used by access rules.
// Access decisions switch exhaustively over these values; anything else is
// denied.
type RoleName string

const (
	RoleAdmin       RoleName = "admin"
	RoleRequester   RoleName = "requester"
	RoleApprover    RoleName = "approver"
	RoleImplementer RoleName = "implementer"
)

// Valid reports whether the name is one of the built-in roles.
func (r RoleName) Valid() bool {
	switch r {
	case RoleAdmin, RoleRequester, RoleApprover, RoleImplementer:
		return true
	}
	return false
}

// Permission codes referenced by the policy layer.
const (
	PermSubmitCR             = "submit_cr"
	PermViewOwnCR            = "view_own_cr"
	PermViewAllCR            = "view_all_cr"
	PermEditOwnCR            = "edit_own_cr"
	PermApproveCR            = "approve_cr"
	PermRejectCR             = "reject_cr"
	PermImplementCR          = "implement_cr"
	PermUpdateImplementation = "update_implementation_status"
	PermRollbackCR           = "rollback_cr"
	PermAttachFiles          = "attach_files"
	PermManageUsers          = "manage_users"
	PermManageRoles          = "manage_roles"
	PermManageSystem         = "manage_system"
	PermViewAuditLogs        = "view_audit_logs"
)

// DefaultRolePermissions is the seed data for the built-in roles.
var DefaultRolePermissions = map[RoleName][]string{
	RoleRequester: {
		PermSubmitCR,
		PermViewOwnCR,
		PermEditOwnCR,
		PermAttachFiles,
	},
	RoleApprover: {
		PermSubmitCR,
		PermViewOwnCR,
		PermViewAllCR,
		PermApproveCR,
		PermRejectCR,
	},
	RoleImplementer: {
		PermViewAllCR,
		PermImplementCR,
		PermUpdateImplementation,
	},
	RoleAdmin: {
		PermSubmitCR,
		PermViewOwnCR,
		PermViewAllCR,
		PermEditOwnCR,
		PermApproveCR,
		PermRejectCR,
		PermImplementCR,
		PermUpdateImplementation,
		PermRollbackCR,
		PermAttachFiles,
		PermManageUsers,
		PermManageRoles,
		PermManageSystem,
		PermViewAuditLogs,
	},
}

// Role is a named permission bundle assignable to users.
type Role struct {
	ID          uuid.UUID    `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        RoleName     `gorm:"type:varchar(50);uniqueIndex;not null" json:"name"`
	Description string       `gorm:"type:text" json:"description"`
	IsSystem    bool         `gorm:"default:false" json:"is_system"` // built-in roles cannot be deleted
	Permissions []Permission `gorm:"many2many:role_permissions;" json:"permissions"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasPermission reports whether the role carries the given permission code.
func (r *Role) HasPermission(code string) bool {
	for _, p := range r.Permissions {
		if p.Code == code {
			return true
		}
	}
	return false
}

// Permission is a single capability that can be attached to roles.
type Permission struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Code        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"code"` // e.g. "approve_cr"
	Description string    `gorm:"type:varchar(256)" json:"description"`
}
