package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"zcc-reporting/api/internal/models"
	"zcc-reporting/api/internal/repos"
	"zcc-reporting/shared/authx"
	"zcc-reporting/shared/logx"
)

var (
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrMissingFields      = errors.New("missing required fields")
	ErrSamePassword       = errors.New("new password must differ from the current one")
)

// AdminPermissions is the full permission set granted to the seeded admin role.
var AdminPermissions = []string{"settings", "agent-aux", "login-logout", "manage", "role"}

type Users interface {
	GetByEmail(ctx context.Context, email string) (models.User, error)
	GetByID(ctx context.Context, id int64) (models.User, error)
	CreateIfAbsent(ctx context.Context, name string, email string, passwordHash string, roleID int64) (bool, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	TouchLogin(ctx context.Context, id int64) error
}

type Roles interface {
	Ensure(ctx context.Context, name string, perms []string) (models.Role, error)
}

type TokenIssuer interface {
	Issue(auth authx.AuthContext) (string, time.Time, error)
}

type Service struct {
	users  Users
	roles  Roles
	tokens TokenIssuer
	log    logx.Logger
}

func NewService(users Users, roles Roles, tokens TokenIssuer, l logx.Logger) *Service {
	return &Service{
		users:  users,
		roles:  roles,
		tokens: tokens,
		log:    l.With(slog.String("component", "accounts")),
	}
}

type Profile struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

type Session struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	User      Profile   `json:"user"`
}

func profileOf(u models.User) Profile {
	perms := u.Permissions
	if perms == nil {
		perms = []string{}
	}
	return Profile{ID: u.ID, Name: u.Name, Email: u.Email, Role: u.Role, Permissions: perms}
}

// Login checks the password and issues a staff token. Unknown emails and wrong passwords
// are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email string, password string) (Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return Session{}, ErrMissingFields
	}
	user, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, repos.ErrNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user: %w", err)
	}
	if err := authx.CheckPassword(user.PasswordHash, password); err != nil {
		return Session{}, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.Issue(authx.AuthContext{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		Permissions: user.Permissions,
	})
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	if err := s.users.TouchLogin(ctx, user.ID); err != nil {
		s.log.Warn(ctx, "touch_login_failed", "could not record login time",
			slog.Int64("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}
	s.log.Info(ctx, "user_login", "user logged in", slog.Int64("user_id", user.ID))
	return Session{Token: token, ExpiresAt: exp, User: profileOf(user)}, nil
}

func (s *Service) Profile(ctx context.Context, userID int64) (Profile, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(user), nil
}

// Permissions reads the role's current permissions rather than the token's snapshot.
func (s *Service) Permissions(ctx context.Context, userID int64) ([]string, error) {
	p, err := s.Profile(ctx, userID)
	if err != nil {
		return nil, err
	}
	return p.Permissions, nil
}

func (s *Service) ResetPassword(ctx context.Context, userID int64, current string, next string) error {
	if current == "" || next == "" {
		return ErrMissingFields
	}
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := authx.CheckPassword(user.PasswordHash, current); err != nil {
		return ErrInvalidCredentials
	}
	if authx.CheckPassword(user.PasswordHash, next) == nil {
		return ErrSamePassword
	}
	hash, err := authx.HashPassword(next)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	s.log.Info(ctx, "password_reset", "password changed", slog.Int64("user_id", userID))
	return nil
}

type AdminSeed struct {
	Name     string
	Email    string
	Password string
}

// SeedAdmin makes sure the admin role and the configured admin user exist. An existing
// user is left untouched.
func (s *Service) SeedAdmin(ctx context.Context, seed AdminSeed) (bool, error) {
	if strings.TrimSpace(seed.Email) == "" || seed.Password == "" {
		return false, ErrMissingFields
	}
	name := strings.TrimSpace(seed.Name)
	if name == "" {
		name = "Admin"
	}
	role, err := s.roles.Ensure(ctx, authx.AdminRole, AdminPermissions)
	if err != nil {
		return false, fmt.Errorf("ensure admin role: %w", err)
	}
	if _, err := s.users.GetByEmail(ctx, seed.Email); err == nil {
		return false, nil
	} else if !errors.Is(err, repos.ErrNotFound) {
		return false, fmt.Errorf("lookup admin: %w", err)
	}
	hash, err := authx.HashPassword(seed.Password)
	if err != nil {
		return false, err
	}
	created, err := s.users.CreateIfAbsent(ctx, name, seed.Email, hash, role.ID)
	if err != nil {
		return false, fmt.Errorf("create admin: %w", err)
	}
	if created {
		s.log.Info(ctx, "admin_seeded", "admin user created", slog.String("email", seed.Email))
	}
	return created, nil
}
