// Package document persists per-file content keyed by (session, file).
// The store is consulted and updated by the synchronization engine but is
// never the source of truth for in-memory fan-out.
package document

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates no record exists for the (session, file) pair.
	ErrNotFound = errors.New("document: record not found")

	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

const (
	opStoreNew  = "document.store.new"
	opLoad      = "document.load"
	opUpsert    = "document.upsert"
	opListFiles = "document.list_files"
)

// StoreError carries an operation code alongside the underlying cause.
type StoreError struct {
	code string
	err  error
}

func (e *StoreError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *StoreError) Unwrap() error {
	return e.err
}

// Code exposes the machine-readable operation code.
func (e *StoreError) Code() string {
	return e.code
}

func newStoreError(operation, reason string, cause error) error {
	return &StoreError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// StoreConfig describes the dependencies of the document store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store reads and writes document records.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the config and constructs a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newStoreError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// Load returns the record for (sessionID, fileID), or ErrNotFound.
func (s *Store) Load(ctx context.Context, sessionID, fileID string) (Record, error) {
	var record Record
	err := s.db.WithContext(ctx).
		Where("session_id = ? AND file_id = ?", sessionID, fileID).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		s.logError(opLoad, "query_failed", err,
			zap.String("session_id", sessionID),
			zap.String("file_id", fileID))
		return Record{}, newStoreError(opLoad, "query_failed", err)
	}
	return record, nil
}

// Upsert atomically inserts or replaces the content of (sessionID,
// fileID), attributing the write to writerUserID. A single
// insert-or-update statement is used so concurrent commits from
// different sessions cannot lose updates.
func (s *Store) Upsert(ctx context.Context, sessionID, fileID, fileName, content, writerUserID string) error {
	record := Record{
		SessionID:        sessionID,
		FileID:           fileID,
		FileName:         fileName,
		Content:          content,
		LastWriterUserID: writerUserID,
		UpdatedAt:        s.clock().UTC(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "file_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"file_name", "content", "last_writer_user_id", "updated_at",
		}),
	}).Create(&record).Error
	if err != nil {
		s.logError(opUpsert, "write_failed", err,
			zap.String("session_id", sessionID),
			zap.String("file_id", fileID),
			zap.String("writer_user_id", writerUserID))
		return newStoreError(opUpsert, "write_failed", err)
	}
	return nil
}

// ListFiles returns the session's files ordered by file name.
func (s *Store) ListFiles(ctx context.Context, sessionID string) ([]FileInfo, error) {
	var records []Record
	err := s.db.WithContext(ctx).
		Select("file_id", "file_name").
		Where("session_id = ?", sessionID).
		Order("file_name ASC").
		Find(&records).Error
	if err != nil {
		s.logError(opListFiles, "query_failed", err, zap.String("session_id", sessionID))
		return nil, newStoreError(opListFiles, "query_failed", err)
	}
	files := make([]FileInfo, 0, len(records))
	for _, record := range records {
		files = append(files, FileInfo{FileID: record.FileID, FileName: record.FileName})
	}
	return files, nil
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.logger.Error("document store error", attrs...)
}
