// Package policy centralizes every actor-facing authorization decision.
// Transition entry points all go through Evaluate instead of scattering
// permission checks across handlers.
package policy

import (
	"fmt"

	"cms-backend/internal/model"

	"github.com/google/uuid"
)

// Actor is the identity an operation runs on behalf of: resolved user id,
// role classification, permission codes and project memberships. It is built
// by the auth middleware (HTTP path) or assembled directly (tests, jobs).
type Actor struct {
	UserID      uuid.UUID
	Username    string
	Role        model.RoleName
	Permissions map[string]struct{}
	Projects    map[uuid.UUID]struct{}
}

// HasPermission reports whether the actor carries the permission code.
func (a Actor) HasPermission(code string) bool {
	_, ok := a.Permissions[code]
	return ok
}

// BelongsToProject reports whether the actor is a member of the project.
func (a Actor) BelongsToProject(projectID uuid.UUID) bool {
	_, ok := a.Projects[projectID]
	return ok
}

// Operation names a policy-guarded change request operation.
type Operation string

const (
	OpView      Operation = "view"
	OpEdit      Operation = "edit"
	OpSubmit    Operation = "submit"
	OpApprove   Operation = "approve"
	OpReject    Operation = "reject"
	OpImplement Operation = "implement"
	OpClose     Operation = "close"
	OpRollback  Operation = "rollback"
	OpComment   Operation = "comment"
	OpViewAudit Operation = "view_audit"
	OpManageSys Operation = "manage_system"
)

// Decision is a structured allow/deny. Reason is set only on denial and
// describes the missing entitlement, not the entity state.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision { return Decision{Allowed: true} }

func deny(format string, args ...interface{}) Decision {
	return Decision{Allowed: false, Reason: fmt.Sprintf(format, args...)}
}

// Err converts a denial into a model.ErrPermissionDenied-wrapped error, nil
// when allowed.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", model.ErrPermissionDenied, d.Reason)
}

// Evaluate is the single authorization entry point for change request
// operations. It judges only who the actor is; whether the change request is
// in a state that permits the operation is the state machine's job, so the
// caller can distinguish "wrong state" from "insufficient permission".
func Evaluate(a Actor, op Operation, cr *model.ChangeRequest) Decision {
	switch op {
	case OpView:
		return CanAccessCR(a, cr)
	case OpEdit:
		return CanEditCR(a, cr)
	case OpSubmit:
		if cr != nil && a.UserID != cr.RequesterID {
			return deny("only the requester can submit")
		}
		return requirePermission(a, model.PermSubmitCR)
	case OpApprove:
		return requirePermission(a, model.PermApproveCR)
	case OpReject:
		// Same guard as approve.
		return requirePermission(a, model.PermApproveCR)
	case OpImplement:
		return requirePermission(a, model.PermImplementCR)
	case OpClose:
		if cr != nil && cr.ApproverID != nil && *cr.ApproverID == a.UserID {
			return allow()
		}
		if a.HasPermission(model.PermManageSystem) {
			return allow()
		}
		return deny("only the assigned approver or a system manager can close")
	case OpRollback:
		return requirePermission(a, model.PermRollbackCR)
	case OpComment:
		return CanAccessCR(a, cr)
	case OpViewAudit:
		return requirePermission(a, model.PermViewAuditLogs)
	case OpManageSys:
		return requirePermission(a, model.PermManageSystem)
	default:
		return deny("unknown operation %q", op)
	}
}

func requirePermission(a Actor, code string) Decision {
	if a.HasPermission(code) {
		return allow()
	}
	return deny("missing permission %q", code)
}

// CanEditCR implements the edit guard: nobody edits a frozen change request,
// not even admins; before that, the requester and system managers may.
func CanEditCR(a Actor, cr *model.ChangeRequest) Decision {
	if cr == nil {
		return deny("no change request")
	}
	if cr.IsFrozen() {
		return deny("change request in status %q is read-only", cr.Status)
	}
	if a.UserID == cr.RequesterID {
		return allow()
	}
	if a.HasPermission(model.PermManageSystem) {
		return allow()
	}
	return deny("only the requester or a system manager can edit")
}

// implementerVisible are the statuses implementers are allowed to see: never
// drafts, pending approvals or rejections.
var implementerVisible = map[model.CRStatus]bool{
	model.CRStatusApproved:    true,
	model.CRStatusInProgress:  true,
	model.CRStatusImplemented: true,
	model.CRStatusClosed:      true,
	model.CRStatusRolledBack:  true,
}

// CanAccessCR implements the role-classified access matrix. The change
// request's Project must be preloaded for the admin rule; a missing project
// denies. Unrecognized roles deny.
func CanAccessCR(a Actor, cr *model.ChangeRequest) Decision {
	if cr == nil {
		return deny("no change request")
	}
	switch a.Role {
	case model.RoleAdmin:
		// Admins see only change requests of projects they created.
		if cr.Project == nil || cr.Project.CreatedByID == nil {
			return deny("project ownership unknown")
		}
		if *cr.Project.CreatedByID == a.UserID {
			return allow()
		}
		return deny("admins access only their own projects")
	case model.RoleRequester:
		if !a.BelongsToProject(cr.ProjectID) {
			return deny("not a member of the project")
		}
		if cr.RequesterID == a.UserID {
			return allow()
		}
		return deny("requesters access only their own change requests")
	case model.RoleImplementer:
		if !a.BelongsToProject(cr.ProjectID) {
			return deny("not a member of the project")
		}
		if implementerVisible[cr.Status] {
			return allow()
		}
		return deny("change request not yet approved")
	case model.RoleApprover:
		if a.BelongsToProject(cr.ProjectID) {
			return allow()
		}
		return deny("not a member of the project")
	default:
		return deny("unrecognized role %q", a.Role)
	}
}
