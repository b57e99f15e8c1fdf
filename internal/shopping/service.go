package shopping

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/feirinha/internal/changefeed"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "shopping.service.new"
	fieldListID     = "list_id"
	fieldUserID     = "user_id"
	queryListUser   = "list_id = ? AND user_id = ?"
	queryListID     = "list_id = ?"
	queryID         = "id = ?"
	orderNewestList = "created_at DESC, id DESC"

	reasonMissingDatabase  = "missing_database"
	reasonInvalidUserID    = "invalid_user_id"
	reasonInvalidListID    = "invalid_list_id"
	reasonInvalidName      = "invalid_name"
	reasonListNotFound     = "list_not_found"
	reasonPermissionDenied = "permission_denied"
	reasonIDGeneration     = "id_generation_failed"
	reasonQueryFailed      = "query_failed"
	reasonInsertFailed     = "insert_failed"
	reasonUpdateFailed     = "update_failed"
	reasonDeleteFailed     = "delete_failed"
)

// Publisher receives change events after a write commits.
type Publisher interface {
	Publish(event changefeed.Event)
}

// AccountLookup reports whether a user identifier belongs to a known account.
type AccountLookup interface {
	AccountExists(ctx context.Context, userID string) (bool, error)
}

// ServiceConfig describes the dependencies of the list service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Publisher  Publisher
	Accounts   AccountLookup
	Logger     *zap.Logger
}

// Service owns lists, shares, items and price history and enforces who may change them.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	publisher  Publisher
	accounts   AccountLookup
	logger     *zap.Logger
}

type noopPublisher struct{}

func (noopPublisher) Publish(changefeed.Event) {}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, ErrStore, errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", ErrInvalidInput, errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = noopPublisher{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		publisher:  publisher,
		accounts:   cfg.Accounts,
		logger:     logger,
	}, nil
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

func (s *Service) publish(events ...changefeed.Event) {
	now := s.now()
	for _, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		s.publisher.Publish(event)
	}
}

func (s *Service) newID(operation string) (string, error) {
	id, err := s.idProvider.NewID()
	if err != nil {
		s.logError(operation, reasonIDGeneration, err)
		return "", newServiceError(operation, reasonIDGeneration, ErrStore, err)
	}
	return id, nil
}

// storeFailure logs and wraps an unexpected store error.
func (s *Service) storeFailure(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return newServiceError(operation, reason, ErrStore, err)
}

func (s *Service) loadList(ctx context.Context, db *gorm.DB, operation, listID string) (List, error) {
	var list List
	err := db.WithContext(ctx).Where(queryID, listID).Take(&list).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return List{}, newServiceError(operation, reasonListNotFound, ErrNotFound, err)
	}
	if err != nil {
		return List{}, s.storeFailure(operation, reasonQueryFailed, err, zap.String(fieldListID, listID))
	}
	return list, nil
}

// canView reports whether the user is the creator or holds a share for the list.
func (s *Service) canView(ctx context.Context, db *gorm.DB, list List, userID string) (bool, error) {
	if list.IsCreator(userID) {
		return true, nil
	}
	var count int64
	if err := db.WithContext(ctx).Model(&Share{}).Where(queryListUser, list.ID, userID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// loadVisibleList loads the list and fails with ErrPermissionDenied when the user cannot see it.
func (s *Service) loadVisibleList(ctx context.Context, db *gorm.DB, operation, listID, userID string) (List, error) {
	list, err := s.loadList(ctx, db, operation, listID)
	if err != nil {
		return List{}, err
	}
	visible, err := s.canView(ctx, db, list, userID)
	if err != nil {
		return List{}, s.storeFailure(operation, reasonQueryFailed, err,
			zap.String(fieldListID, listID), zap.String(fieldUserID, userID))
	}
	if !visible {
		return List{}, newServiceError(operation, reasonPermissionDenied, ErrPermissionDenied, nil)
	}
	return list, nil
}

func normalizeIdentifier(operation, reason, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || len(trimmed) > maxIdentifierLength {
		return "", newServiceError(operation, reason, ErrInvalidInput, nil)
	}
	return trimmed, nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil || s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("shopping service error", attrs...)
}
