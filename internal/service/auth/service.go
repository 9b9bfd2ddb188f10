package auth

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"taskhive/internal/model"
	"taskhive/internal/repository"
	"taskhive/pkg/apperror"
	"taskhive/pkg/rbac"
	"taskhive/pkg/util"
)

const minPasswordLength = 8

// ErrInvalidCredentials 邮箱不存在或密码错误，不区分两者
var ErrInvalidCredentials = errors.New("invalid email or password")

type RegisterInput struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

type Service struct {
	users       repository.UserRepository
	jwtSecret   string
	ttl         time.Duration
	adminEmails []string
	logger      *zap.Logger
}

func NewService(users repository.UserRepository, jwtSecret string, ttl time.Duration, adminEmails []string, logger *zap.Logger) *Service {
	normalized := make([]string, 0, len(adminEmails))
	for _, e := range adminEmails {
		normalized = append(normalized, normalizeEmail(e))
	}
	return &Service{
		users:       users,
		jwtSecret:   jwtSecret,
		ttl:         ttl,
		adminEmails: normalized,
		logger:      logger,
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Register creates a new user.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*model.User, error) {
	email := normalizeEmail(in.Email)
	if !strings.Contains(email, "@") {
		return nil, apperror.Validation("email", "must be a valid email address")
	}
	if utf8.RuneCountInString(in.Password) < minPasswordLength {
		return nil, apperror.Validation("password", "must be at least %d characters", minPasswordLength)
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return nil, apperror.Conflict("email %s already exists", email)
	}

	hash, err := util.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	var roles []string
	if slices.Contains(s.adminEmails, email) {
		roles = append(roles, rbac.RoleAdmin)
	}

	u := &model.User{
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Roles:        rbac.NormalizeRoles(roles),
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.users.Insert(ctx, u); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperror.Conflict("email %s already exists", email)
		}
		return nil, err
	}

	s.logger.Info("User registered", zap.Int("user_id", u.ID), zap.Strings("roles", u.Roles))
	return u, nil
}

// Login checks user credentials and returns JWT.
func (s *Service) Login(ctx context.Context, email, password string) (string, error) {
	u, err := s.users.FindByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if !util.CheckPassword(password, u.PasswordHash) {
		return "", ErrInvalidCredentials
	}

	token, err := util.GenerateJWT(rbac.Principal{UserID: u.ID, Roles: u.Roles}, s.jwtSecret, s.ttl)
	if err != nil {
		return "", err
	}

	return token, nil
}
