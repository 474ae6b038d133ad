package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// maxFailedLogins is the number of consecutive failed attempts before the
// account is locked.
const maxFailedLogins = 5

// User represents a system user. Passwords are stored bcrypt-hashed; the Role
// field holds one of the closed RoleName values.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Username  string    `gorm:"type:varchar(64);uniqueIndex;not null" json:"username"`
	Email     string    `gorm:"type:varchar(120);uniqueIndex;not null" json:"email"`
	Password  string    `gorm:"type:varchar(255);not null" json:"-"` // bcrypt hash, never serialized
	FirstName string    `gorm:"type:varchar(64)" json:"first_name"`
	LastName  string    `gorm:"type:varchar(64)" json:"last_name"`

	Role RoleName `gorm:"type:varchar(50);not null;index" json:"role"`

	IsActive            bool       `gorm:"default:true" json:"is_active"`
	IsLocked            bool       `gorm:"default:false" json:"is_locked"`
	FailedLoginAttempts int        `gorm:"default:0" json:"-"`
	LastLogin           *time.Time `json:"last_login"`
	LastLoginIP         string     `gorm:"type:varchar(45)" json:"-"` // IPv6 fits

	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Memberships []ProjectMembership `gorm:"foreignKey:UserID;constraint:OnDelete:CASCADE" json:"-"`
}

// FullName returns first+last name, falling back to the username.
func (u *User) FullName() string {
	if u.FirstName != "" && u.LastName != "" {
		return u.FirstName + " " + u.LastName
	}
	return u.Username
}

// RecordFailedLogin increments the failure counter and locks the account when
// the threshold is reached.
func (u *User) RecordFailedLogin() {
	u.FailedLoginAttempts++
	if u.FailedLoginAttempts >= maxFailedLogins {
		u.IsLocked = true
	}
}

// RecordSuccessfulLogin resets the failure counter and stamps the login.
func (u *User) RecordSuccessfulLogin(ip string, now time.Time) {
	u.FailedLoginAttempts = 0
	u.IsLocked = false
	now = now.UTC()
	u.LastLogin = &now
	u.LastLoginIP = ip
}
