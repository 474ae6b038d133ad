package model

import (
	"time"

	"github.com/google/uuid"
)

// Project groups change requests. Users gain access to a project's change
// requests via memberships; the creating admin owns the project for access
// purposes.
type Project struct {
	ID          uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(128);uniqueIndex;not null" json:"name"`
	Code        string    `gorm:"type:varchar(32);uniqueIndex" json:"code"`
	Description string    `gorm:"type:text" json:"description"`

	CreatedByID *uuid.UUID `gorm:"type:uuid;index" json:"created_by_id"`
	CreatedBy   *User      `gorm:"foreignKey:CreatedByID" json:"created_by,omitempty"`

	IsActive bool `gorm:"default:true" json:"is_active"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Members []ProjectMembership `gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE" json:"members,omitempty"`
}

// ProjectMembership links a user to a project. One active membership per
// user/project pair.
type ProjectMembership struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user" json:"project_id"`
	UserID    uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_project_user" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`

	IsActive bool      `gorm:"default:true" json:"is_active"`
	JoinedAt time.Time `gorm:"autoCreateTime" json:"joined_at"`
}
