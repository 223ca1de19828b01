package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/cadence/engine/internal/memo"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrNotFound indicates the requested memo does not exist in the local store.
	ErrNotFound = errors.New("store: memo not found")
	// ErrStorageUnavailable indicates the underlying database rejected the operation.
	ErrStorageUnavailable = errors.New("store: storage unavailable")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceError carries an operation-coded failure from the local store.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation-coded failure identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opServiceNew  = "store.service.new"
	opPut         = "store.put"
	opGet         = "store.get"
	opListByDate  = "store.list_by_date"
	opListByRange = "store.list_by_range"
	opRemove      = "store.remove"
	opUpdate      = "store.update"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ServiceConfig describes the dependencies of the local record store.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Service is the device-local persistent store of memo records. Pure CRUD;
// reconciliation never happens here. Single-device, single-process ownership
// is assumed, so no cross-writer coordination exists.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewService constructs the local record store service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
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

// Put inserts or fully replaces a record by its identifier. The record's day
// column is derived from its creation timestamp.
func (s *Service) Put(ctx context.Context, record memo.LocalMemoRecord) error {
	if err := record.Validate(); err != nil {
		s.logError(opPut, "invalid_record", err, zap.String("memo_id", record.ID))
		return newServiceError(opPut, "invalid_record", err)
	}
	record.Day = memo.DayOfEpochMs(record.CreatedAtEpochMs).String()
	if err := s.db.WithContext(ctx).Save(&record).Error; err != nil {
		s.logError(opPut, "save_failed", err, zap.String("memo_id", record.ID))
		return newServiceError(opPut, "save_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return nil
}

// Get fetches a single record by identifier.
func (s *Service) Get(ctx context.Context, id memo.MemoID) (memo.LocalMemoRecord, error) {
	var record memo.LocalMemoRecord
	err := s.db.WithContext(ctx).Where("memo_id = ?", id.String()).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return memo.LocalMemoRecord{}, newServiceError(opGet, "not_found", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	if err != nil {
		s.logError(opGet, "query_failed", err, zap.String("memo_id", id.String()))
		return memo.LocalMemoRecord{}, newServiceError(opGet, "query_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return record, nil
}

// ListByDate returns all records created on the given calendar date, newest
// first.
func (s *Service) ListByDate(ctx context.Context, day memo.Day) ([]memo.LocalMemoRecord, error) {
	var records []memo.LocalMemoRecord
	if err := s.db.WithContext(ctx).
		Where("day = ?", day.String()).
		Order("created_at_ms DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByDate, "query_failed", err, zap.String("day", day.String()))
		return nil, newServiceError(opListByDate, "query_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return records, nil
}

// ListByRange returns all records created between start and end inclusive,
// newest first.
func (s *Service) ListByRange(ctx context.Context, start, end memo.Day) ([]memo.LocalMemoRecord, error) {
	var records []memo.LocalMemoRecord
	if err := s.db.WithContext(ctx).
		Where("day >= ? AND day <= ?", start.String(), end.String()).
		Order("created_at_ms DESC").
		Find(&records).Error; err != nil {
		s.logError(opListByRange, "query_failed", err,
			zap.String("start", start.String()), zap.String("end", end.String()))
		return nil, newServiceError(opListByRange, "query_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return records, nil
}

// Remove deletes a record by identifier. Removing an absent record is not an
// error.
func (s *Service) Remove(ctx context.Context, id memo.MemoID) error {
	if err := s.db.WithContext(ctx).
		Where("memo_id = ?", id.String()).
		Delete(&memo.LocalMemoRecord{}).Error; err != nil {
		s.logError(opRemove, "delete_failed", err, zap.String("memo_id", id.String()))
		return newServiceError(opRemove, "delete_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, err))
	}
	return nil
}

// FieldPatch names the mutable subset of a local record. Nil fields are left
// untouched. AudioBytes is deliberately absent: audio is immutable once
// recorded.
type FieldPatch struct {
	DisplayName          *string
	TranscriptText       *string
	TranscriptLanguage   *string
	TranscribedAtEpochMs *int64
	SyncedToRemote       *bool
	RemoteID             *string
}

// Update applies a partial patch to an existing record. Fails with ErrNotFound
// when the record is absent.
func (s *Service) Update(ctx context.Context, id memo.MemoID, patch FieldPatch) error {
	updates := map[string]interface{}{}
	if patch.DisplayName != nil {
		updates["display_name"] = *patch.DisplayName
	}
	if patch.TranscriptText != nil {
		updates["transcript_text"] = *patch.TranscriptText
	}
	if patch.TranscriptLanguage != nil {
		updates["transcript_language"] = *patch.TranscriptLanguage
	}
	if patch.TranscribedAtEpochMs != nil {
		updates["transcribed_at_ms"] = *patch.TranscribedAtEpochMs
	}
	if patch.SyncedToRemote != nil {
		updates["synced_to_remote"] = *patch.SyncedToRemote
	}
	if patch.RemoteID != nil {
		updates["remote_id"] = *patch.RemoteID
	}
	if len(updates) == 0 {
		return nil
	}

	result := s.db.WithContext(ctx).
		Model(&memo.LocalMemoRecord{}).
		Where("memo_id = ?", id.String()).
		Updates(updates)
	if result.Error != nil {
		s.logError(opUpdate, "update_failed", result.Error, zap.String("memo_id", id.String()))
		return newServiceError(opUpdate, "update_failed", fmt.Errorf("%w: %v", ErrStorageUnavailable, result.Error))
	}
	if result.RowsAffected == 0 {
		return newServiceError(opUpdate, "not_found", fmt.Errorf("%w: %s", ErrNotFound, id))
	}
	return nil
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
	s.logger.Error("local store error", attrs...)
}
