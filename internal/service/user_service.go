package service

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"cms-backend/internal/model"
	"cms-backend/internal/policy"
	"cms-backend/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/bcrypt"
)

// DTOs for request validation
type CreateUserRequest struct {
	Username  string `json:"username" binding:"required"`
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role" binding:"required"`
}

type UpdateUserRequest struct {
	Email     string `json:"email" binding:"omitempty,email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
	IsActive  *bool  `json:"is_active"`
	Unlock    bool   `json:"unlock"`
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type TokenResponse struct {
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
	User      UserResponse `json:"user"`
}

// UserResponse returns a user without exposing sensitive fields.
type UserResponse struct {
	ID        uuid.UUID  `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	FirstName string     `json:"first_name"`
	LastName  string     `json:"last_name"`
	Role      string     `json:"role"`
	IsActive  bool       `json:"is_active"`
	IsLocked  bool       `json:"is_locked"`
	LastLogin *time.Time `json:"last_login"`
	CreatedAt string     `json:"created_at"`
	UpdatedAt string     `json:"updated_at"`
}

// UserService handles accounts, authentication and actor resolution.
type UserService interface {
	CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error)
	Login(ctx context.Context, req LoginRequest, clientIP string) (*TokenResponse, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error)
	ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error)
	UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error)
	DeleteUser(ctx context.Context, id uuid.UUID) error
	ResolveActor(ctx context.Context, userID uuid.UUID) (policy.Actor, error)
}

type userService struct {
	userRepo  repository.UserRepository
	roleRepo  repository.RoleRepository
	auditRepo repository.AuditRepository
	jwtSecret []byte
	tokenTTL  time.Duration
	clock     clockwork.Clock
}

func NewUserService(
	userRepo repository.UserRepository,
	roleRepo repository.RoleRepository,
	auditRepo repository.AuditRepository,
	jwtSecret string,
	tokenTTL time.Duration,
	clock clockwork.Clock,
) UserService {
	return &userService{
		userRepo:  userRepo,
		roleRepo:  roleRepo,
		auditRepo: auditRepo,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		clock:     clock,
	}
}

var emailRegex = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}$`)

func mapToUserResponse(user *model.User) *UserResponse {
	return &UserResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      string(user.Role),
		IsActive:  user.IsActive,
		IsLocked:  user.IsLocked,
		LastLogin: user.LastLogin,
		CreatedAt: user.CreatedAt.Format(time.RFC3339),
		UpdatedAt: user.UpdatedAt.Format(time.RFC3339),
	}
}

func (s *userService) CreateUser(ctx context.Context, req CreateUserRequest) (*UserResponse, error) {
	role := model.RoleName(req.Role)
	if !role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, req.Role)
	}
	if !emailRegex.MatchString(req.Email) {
		return nil, fmt.Errorf("%w: invalid email format", model.ErrValidation)
	}

	if _, err := s.userRepo.GetByUsername(ctx, req.Username); err == nil {
		return nil, fmt.Errorf("%w: username already exists", model.ErrValidation)
	}
	if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
		return nil, fmt.Errorf("%w: email already exists", model.ErrValidation)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Username:  req.Username,
		Email:     req.Email,
		Password:  string(hashed),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Role:      role,
		IsActive:  true,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.recordAuth(ctx, model.AuditUserCreated, user.Username, true, map[string]interface{}{"role": role})
	return mapToUserResponse(user), nil
}

func (s *userService) Login(ctx context.Context, req LoginRequest, clientIP string) (*TokenResponse, error) {
	user, err := s.userRepo.GetByUsername(ctx, req.Username)
	if err != nil {
		s.recordAuth(ctx, model.AuditLoginFailed, req.Username, false, map[string]interface{}{"reason": "unknown user", "ip": clientIP})
		return nil, fmt.Errorf("%w: invalid username or password", model.ErrPermissionDenied)
	}

	if !user.IsActive {
		s.recordAuth(ctx, model.AuditLoginFailed, user.Username, false, map[string]interface{}{"reason": "account disabled", "ip": clientIP})
		return nil, fmt.Errorf("%w: account is disabled", model.ErrPermissionDenied)
	}
	if user.IsLocked {
		s.recordAuth(ctx, model.AuditLoginFailed, user.Username, false, map[string]interface{}{"reason": "account locked", "ip": clientIP})
		return nil, fmt.Errorf("%w: account is locked", model.ErrPermissionDenied)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		user.RecordFailedLogin()
		if updErr := s.userRepo.Update(ctx, user); updErr != nil {
			return nil, fmt.Errorf("failed to record login attempt: %w", updErr)
		}
		meta := map[string]interface{}{"reason": "bad password", "ip": clientIP}
		if user.IsLocked {
			meta["locked"] = true
			s.recordAuth(ctx, model.AuditAccountLocked, user.Username, false, meta)
		} else {
			s.recordAuth(ctx, model.AuditLoginFailed, user.Username, false, meta)
		}
		return nil, fmt.Errorf("%w: invalid username or password", model.ErrPermissionDenied)
	}

	now := s.clock.Now()
	user.RecordSuccessfulLogin(clientIP, now)
	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to record login: %w", err)
	}

	expiresAt := now.UTC().Add(s.tokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  user.ID.String(),
		"name": user.Username,
		"role": string(user.Role),
		"exp":  expiresAt.Unix(),
		"iat":  now.UTC().Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	s.recordAuth(ctx, model.AuditLoginSuccess, user.Username, true, map[string]interface{}{"ip": clientIP})
	return &TokenResponse{
		Token:     signed,
		ExpiresAt: expiresAt,
		User:      *mapToUserResponse(user),
	}, nil
}

func (s *userService) GetUserByID(ctx context.Context, id uuid.UUID) (*UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return mapToUserResponse(user), nil
}

func (s *userService) ListUsers(ctx context.Context, page, limit int) ([]UserResponse, int64, error) {
	users, total, err := s.userRepo.List(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	responses := make([]UserResponse, 0, len(users))
	for i := range users {
		responses = append(responses, *mapToUserResponse(&users[i]))
	}
	return responses, total, nil
}

func (s *userService) UpdateUser(ctx context.Context, id uuid.UUID, req UpdateUserRequest) (*UserResponse, error) {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Role != "" {
		role := model.RoleName(req.Role)
		if !role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", model.ErrValidation, req.Role)
		}
		user.Role = role
	}
	if req.Email != "" && req.Email != user.Email {
		if _, err := s.userRepo.GetByEmail(ctx, req.Email); err == nil {
			return nil, fmt.Errorf("%w: email already exists", model.ErrValidation)
		}
		user.Email = req.Email
	}
	if req.FirstName != "" {
		user.FirstName = req.FirstName
	}
	if req.LastName != "" {
		user.LastName = req.LastName
	}
	if req.IsActive != nil {
		user.IsActive = *req.IsActive
	}
	if req.Unlock {
		user.IsLocked = false
		user.FailedLoginAttempts = 0
	}

	if err := s.userRepo.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	s.recordAuth(ctx, model.AuditUserUpdated, user.Username, true, nil)
	return mapToUserResponse(user), nil
}

func (s *userService) DeleteUser(ctx context.Context, id uuid.UUID) error {
	user, err := s.userRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.userRepo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	s.recordAuth(ctx, model.AuditUserDeleted, user.Username, true, nil)
	return nil
}

// ResolveActor builds the policy actor for an authenticated user: role
// permissions and project memberships in one place, so every authorization
// decision downstream works off the same snapshot.
func (s *userService) ResolveActor(ctx context.Context, userID uuid.UUID) (policy.Actor, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return policy.Actor{}, err
	}
	if !user.IsActive || user.IsLocked {
		return policy.Actor{}, fmt.Errorf("%w: account is not available", model.ErrPermissionDenied)
	}

	codes, err := s.roleRepo.PermissionCodes(ctx, user.Role)
	if err != nil {
		return policy.Actor{}, fmt.Errorf("failed to load role permissions: %w", err)
	}
	projectIDs, err := s.userRepo.ProjectIDs(ctx, userID)
	if err != nil {
		return policy.Actor{}, fmt.Errorf("failed to load project memberships: %w", err)
	}

	actor := policy.Actor{
		UserID:      user.ID,
		Username:    user.Username,
		Role:        user.Role,
		Permissions: make(map[string]struct{}, len(codes)),
		Projects:    make(map[uuid.UUID]struct{}, len(projectIDs)),
	}
	for _, c := range codes {
		actor.Permissions[c] = struct{}{}
	}
	for _, id := range projectIDs {
		actor.Projects[id] = struct{}{}
	}
	return actor, nil
}

func (s *userService) recordAuth(ctx context.Context, eventType, username string, success bool, metadata map[string]interface{}) {
	payload := "{}"
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			payload = string(raw)
		}
	}
	category := model.AuditCategoryAuth
	switch eventType {
	case model.AuditUserCreated, model.AuditUserUpdated, model.AuditUserDeleted:
		category = model.AuditCategoryAdmin
	}
	// Auth events are best-effort: a failed audit write must not block login.
	_ = s.auditRepo.Record(ctx, &model.AuditLog{
		EventType:     eventType,
		EventCategory: category,
		Description:   fmt.Sprintf("%s for %s", eventType, username),
		Username:      username,
		ResourceType:  "User",
		Success:       success,
		Metadata:      payload,
	})
}
