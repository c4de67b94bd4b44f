// Package users manages workspace accounts: registration with a password
// policy, credential checks, and the admin maintenance operations.
package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/hyperide/backend/internal/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 8
	specialCharacters = "!@#$&*"

	// Seed fallback used when no admin secret is configured. Matches the
	// original deployment default; operators are warned at startup.
	fallbackAdminSecret = "Temporary_Fallback_99"
)

var (
	// ErrUsernameTaken indicates the username is already registered.
	ErrUsernameTaken = errors.New("users: username taken")
	// ErrWeakPassword indicates the password fails the policy.
	ErrWeakPassword = errors.New("users: password too weak")
	// ErrInvalidCredentials indicates an unknown user or wrong password.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrUnknownUser indicates the target of an admin operation does not exist.
	ErrUnknownUser = errors.New("users: unknown user")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required by the account service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service manages user accounts.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Register creates a new participant account with the default role.
func (s *Service) Register(ctx context.Context, username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidCredentials)
	}
	if err := CheckPasswordPolicy(password); err != nil {
		return err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrUsernameTaken, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	record := User{
		Username:         username,
		PasswordHash:     string(hash),
		Role:             auth.RoleUser,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	s.logger.Info("user registered", zap.String("username", username))
	return nil
}

// Authenticate verifies credentials and returns the session identity.
func (s *Service) Authenticate(ctx context.Context, username, password string) (auth.Session, error) {
	var record User
	err := s.db.WithContext(ctx).Where("username = ?", username).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return auth.Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return auth.Session{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(record.PasswordHash), []byte(password)) != nil {
		return auth.Session{}, ErrInvalidCredentials
	}
	return auth.Session{User: record.Username, Role: record.Role}, nil
}

// ResetPassword overwrites a user's password. Callers gate this to admins.
func (s *Service) ResetPassword(ctx context.Context, username, newPassword string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	result := s.db.WithContext(ctx).Model(&User{}).
		Where("username = ?", username).
		Updates(map[string]interface{}{
			"password_hash":            string(hash),
			"password_reset_requested": false,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	s.logger.Info("password reset", zap.String("username", username))
	return nil
}

// GrantAccess records an admin-granted file access entry for a user.
// Granting the same path twice is a no-op.
func (s *Service) GrantAccess(ctx context.Context, username, path string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownUser, username)
	}
	grant := FileGrant{Username: username, Path: path}
	err := s.db.WithContext(ctx).Create(&grant).Error
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return nil
	}
	return err
}

// Grants lists the paths granted to a user.
func (s *Service) Grants(ctx context.Context, username string) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).Model(&FileGrant{}).
		Where("username = ?", username).
		Order("path ASC").
		Pluck("path", &paths).Error
	return paths, err
}

// SeedAdmin ensures the admin account exists. An empty secret falls back to
// the deployment default and logs a warning.
func (s *Service) SeedAdmin(ctx context.Context, username, secret string) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	if secret == "" {
		secret = fallbackAdminSecret
		s.logger.Warn("admin secret not configured, using fallback", zap.String("username", username))
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	record := User{
		Username:         username,
		PasswordHash:     string(hash),
		Role:             auth.RoleAdmin,
		CreatedAtSeconds: s.clock().UTC().Unix(),
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		return err
	}
	s.logger.Info("admin account seeded", zap.String("username", username))
	return nil
}

// CheckPasswordPolicy enforces the registration password rules: at least
// eight characters with one uppercase letter, one digit, and one of !@#$&*.
func CheckPasswordPolicy(password string) error {
	if len(password) < minPasswordLength {
		return fmt.Errorf("%w: must be at least %d characters", ErrWeakPassword, minPasswordLength)
	}
	var hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialCharacters, r):
			hasSpecial = true
		}
	}
	if !hasUpper || !hasDigit || !hasSpecial {
		return fmt.Errorf("%w: needs one uppercase letter, one digit, and one of %s", ErrWeakPassword, specialCharacters)
	}
	return nil
}
