package notifications

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/moochie/internal/ids"
	"github.com/MarcoPoloResearchLab/moochie/internal/serviceerror"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	errMissingUserID     = errors.New("user identifier is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew   = "notifications.service.new"
	opAppend       = "notifications.append"
	opList         = "notifications.list"
	opClearForUser = "notifications.clear_for_user"
)

type ServiceConfig struct {
	Database   *gorm.DB
	IDProvider ids.Provider
	Location   *time.Location
	Logger     *zap.Logger
}

// Service is the notification half of the remote message store.
type Service struct {
	db         *gorm.DB
	idProvider ids.Provider
	location   *time.Location
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, serviceerror.New(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, serviceerror.New(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	location := cfg.Location
	if location == nil {
		location = time.Local
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		idProvider: cfg.IDProvider,
		location:   location,
		logger:     logger,
	}, nil
}

// Append stores a new record under a generated id.
func (s *Service) Append(ctx context.Context, input NewRecordInput) (Record, error) {
	if strings.TrimSpace(input.OwnerUserID) == "" {
		return Record{}, serviceerror.New(opAppend, "missing_owner", ErrMissingOwner)
	}

	recordID, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opAppend, "id_generation_failed", err)
		return Record{}, serviceerror.New(opAppend, "id_generation_failed", err)
	}

	record := Record{
		RecordID:        recordID,
		SourceApp:       input.SourceApp,
		AppDisplayName:  input.AppDisplayName,
		Title:           input.Title,
		Body:            input.Body,
		PostedAtMillis:  input.PostedAt.UnixMilli(),
		FormattedTime:   input.PostedAt.In(s.location).Format(FormattedTimeLayout),
		OwnerUserID:     input.OwnerUserID,
		ExtractedSender: input.ExtractedSender,
	}

	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opAppend, "insert_failed", err,
			zap.String("user_id", input.OwnerUserID),
			zap.String("package_name", input.SourceApp))
		return Record{}, serviceerror.New(opAppend, "insert_failed", err)
	}

	return record, nil
}

// List returns every stored notification newest first. The feed is shared:
// remote viewers see the notifications of every device.
func (s *Service) List(ctx context.Context) ([]Record, error) {
	var records []Record
	if err := s.db.WithContext(ctx).
		Order("post_time_ms DESC").
		Order("record_id DESC").
		Find(&records).Error; err != nil {
		s.logError(opList, "query_failed", err)
		return nil, serviceerror.New(opList, "query_failed", err)
	}
	return records, nil
}

// ClearForUser deletes every record owned by the user and reports how many
// rows were removed.
func (s *Service) ClearForUser(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		s.logError(opClearForUser, "missing_user_id", errMissingUserID)
		return 0, serviceerror.New(opClearForUser, "missing_user_id", errMissingUserID)
	}

	result := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Delete(&Record{})
	if result.Error != nil {
		s.logError(opClearForUser, "delete_failed", result.Error, zap.String("user_id", userID))
		return 0, serviceerror.New(opClearForUser, "delete_failed", result.Error)
	}

	s.logger.Info("notifications cleared",
		zap.String("user_id", userID),
		zap.Int64("deleted", result.RowsAffected))
	return result.RowsAffected, nil
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
	s.logger.Error("notifications service error", attrs...)
}
