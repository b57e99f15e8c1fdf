package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/auth"
	"github.com/MarcoPoloResearchLab/feirinha/internal/database/dberr"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrInvalidEmail indicates an empty or malformed email address.
	ErrInvalidEmail = errors.New("users: invalid email")
	// ErrWeakPassword indicates a password shorter than auth.MinPasswordLength.
	ErrWeakPassword = errors.New("users: password too short")
	// ErrEmailTaken indicates another account already uses the email.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrInvalidCredentials indicates an unknown email or a wrong password.
	ErrInvalidCredentials = errors.New("users: invalid email or password")
	// ErrUnauthenticated indicates a missing, invalid, expired or signed-out session.
	ErrUnauthenticated = errors.New("users: unauthenticated")
)

// PasswordHasher hashes and verifies account passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hash, password string) error
}

// TokenIssuer signs session tokens.
type TokenIssuer interface {
	IssueSessionToken(ctx context.Context, identity auth.SessionIdentity) (string, time.Time, error)
}

// TokenValidator parses session tokens.
type TokenValidator interface {
	ValidateToken(token string) (auth.SessionClaims, error)
}

// IDProvider issues account and session identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the account directory.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Hasher     PasswordHasher
	Tokens     TokenIssuer
	Validator  TokenValidator
	Logger     *zap.Logger
}

// Service is the account directory: sign-up, sign-in, sign-out and session lookup.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider IDProvider
	hasher     PasswordHasher
	tokens     TokenIssuer
	validator  TokenValidator
	logger     *zap.Logger
}

type uuidProvider struct{}

func (uuidProvider) NewID() (string, error) {
	value, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return value.String(), nil
}

// NewService constructs the account directory.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.Tokens == nil || cfg.Validator == nil {
		return nil, fmt.Errorf("users: token issuer and validator required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = uuidProvider{}
	}
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = auth.NewPasswordHasher(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		now:        func() time.Time { return clock().UTC() },
		idProvider: idProvider,
		hasher:     hasher,
		tokens:     cfg.Tokens,
		validator:  cfg.Validator,
		logger:     logger,
	}, nil
}

// SignUp registers a new account with a lower-cased email and a bcrypt password hash.
func (s *Service) SignUp(ctx context.Context, email, password string) (Account, error) {
	normalizedEmail := normalizeEmail(email)
	if !validEmail(normalizedEmail) {
		return Account{}, ErrInvalidEmail
	}
	hash, err := s.hasher.Hash(password)
	if errors.Is(err, auth.ErrWeakPassword) {
		return Account{}, ErrWeakPassword
	}
	if err != nil {
		return Account{}, err
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("email = ?", normalizedEmail).Count(&count).Error; err != nil {
		s.logger.Error("account lookup failed", zap.Error(err))
		return Account{}, err
	}
	if count > 0 {
		return Account{}, ErrEmailTaken
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return Account{}, fmt.Errorf("users: generate user id: %w", err)
	}
	account := Account{
		UserID:       userID,
		Email:        normalizedEmail,
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		if dberr.IsUniqueViolation(err) {
			return Account{}, ErrEmailTaken
		}
		s.logger.Error("account insert failed", zap.Error(err))
		return Account{}, err
	}
	return account, nil
}

// SignIn verifies the credentials, records a session and returns its signed token.
func (s *Service) SignIn(ctx context.Context, email, password string) (SessionGrant, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SessionGrant{}, ErrInvalidCredentials
	}
	if err != nil {
		s.logger.Error("account lookup failed", zap.Error(err))
		return SessionGrant{}, err
	}
	if err := s.hasher.Compare(account.PasswordHash, password); err != nil {
		return SessionGrant{}, ErrInvalidCredentials
	}

	sessionID, err := s.idProvider.NewID()
	if err != nil {
		return SessionGrant{}, fmt.Errorf("users: generate session id: %w", err)
	}
	token, expiresAt, err := s.tokens.IssueSessionToken(ctx, auth.SessionIdentity{
		UserID:    account.UserID,
		UserEmail: account.Email,
		SessionID: sessionID,
	})
	if err != nil {
		s.logger.Error("session token issue failed", zap.Error(err))
		return SessionGrant{}, err
	}

	now := s.now()
	session := Session{
		SessionID: sessionID,
		UserID:    account.UserID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: now,
	}
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND expires_at < ?", account.UserID, now).Delete(&Session{}).Error; err != nil {
			return err
		}
		return tx.Create(&session).Error
	})
	if txErr != nil {
		s.logger.Error("session insert failed", zap.Error(txErr))
		return SessionGrant{}, txErr
	}

	return SessionGrant{Token: token, ExpiresAt: session.ExpiresAt, UserID: account.UserID}, nil
}

// SignOut removes the session behind the token. Unknown, expired or already
// revoked sessions are not an error.
func (s *Service) SignOut(ctx context.Context, token string) error {
	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		return nil
	}
	if err := s.db.WithContext(ctx).Where("session_id = ?", claims.SessionID()).Delete(&Session{}).Error; err != nil {
		s.logger.Error("session delete failed", zap.Error(err))
		return err
	}
	return nil
}

// CurrentUser resolves the account behind a live session token.
func (s *Service) CurrentUser(ctx context.Context, token string) (Account, error) {
	claims, err := s.validator.ValidateToken(token)
	if err != nil {
		return Account{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
	}

	var session Session
	err = s.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", claims.SessionID(), claims.UserID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("%w: session revoked", ErrUnauthenticated)
	}
	if err != nil {
		s.logger.Error("session lookup failed", zap.Error(err))
		return Account{}, err
	}
	if !session.ExpiresAt.After(s.now()) {
		return Account{}, fmt.Errorf("%w: session expired", ErrUnauthenticated)
	}

	var account Account
	err = s.db.WithContext(ctx).Where("user_id = ?", session.UserID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, fmt.Errorf("%w: account removed", ErrUnauthenticated)
	}
	if err != nil {
		s.logger.Error("account lookup failed", zap.Error(err))
		return Account{}, err
	}
	return account, nil
}

// AccountExists reports whether userID belongs to a registered account.
func (s *Service) AccountExists(ctx context.Context, userID string) (bool, error) {
	userID = normalize(userID)
	if userID == "" {
		return false, nil
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&Account{}).Where("user_id = ?", userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func validEmail(email string) bool {
	if email == "" || len(email) > maxEmailLength {
		return false
	}
	at := strings.Index(email, "@")
	return at > 0 && at < len(email)-1 && !strings.ContainsAny(email, " \t\r\n")
}
