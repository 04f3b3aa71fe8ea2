// Package catalog manages the set of files within a session: the
// auto-provisioned default file, collision-free name allocation, and
// ordered listing. Catalog state lives in the document store, so a
// failed store write leaves no orphan entry behind.
package catalog

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/quillpadhq/quillpad/backend/internal/document"
)

const (
	// DefaultFileID is the file provisioned when a session is first
	// touched.
	DefaultFileID = "default"
	// DefaultFileName is the display name of auto-provisioned files.
	DefaultFileName = "untitled.txt"

	fileIDBytes = 3 // 6 hex characters
)

// ErrCreateFile indicates the store rejected the write backing a new
// file.
var ErrCreateFile = errors.New("catalog: failed to create file")

// File is one catalog entry.
type File struct {
	FileID   string
	FileName string
}

// CatalogConfig describes the dependencies of the file catalog.
type CatalogConfig struct {
	Store  *document.Store
	Logger *zap.Logger
}

// Catalog allocates and lists files for sessions. Callers serialize
// access per session; the catalog itself holds no locks.
type Catalog struct {
	store  *document.Store
	logger *zap.Logger
}

// NewCatalog validates the config and constructs a Catalog.
func NewCatalog(cfg CatalogConfig) (*Catalog, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: document store is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Catalog{store: cfg.Store, logger: logger}, nil
}

// EnsureDefault guarantees the session's default file exists. Idempotent:
// existing content is never overwritten.
func (c *Catalog) EnsureDefault(ctx context.Context, sessionID string) error {
	_, err := c.store.Load(ctx, sessionID, DefaultFileID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, document.ErrNotFound) {
		return err
	}
	return c.store.Upsert(ctx, sessionID, DefaultFileID, DefaultFileName, "", "")
}

// Create allocates a fresh file for the session: a random 6-hex id and
// the first unused name in the untitled.txt, untitled-2.txt, ... series.
// The store write is the catalog entry, so a failure rolls back
// structurally and surfaces as ErrCreateFile.
func (c *Catalog) Create(ctx context.Context, sessionID, writerUserID string) (File, error) {
	existing, err := c.store.ListFiles(ctx, sessionID)
	if err != nil {
		c.logger.Error("file listing failed during create",
			zap.String("session_id", sessionID), zap.Error(err))
		return File{}, fmt.Errorf("%w: %v", ErrCreateFile, err)
	}

	taken := make(map[string]struct{}, len(existing))
	usedIDs := make(map[string]struct{}, len(existing))
	for _, info := range existing {
		taken[info.FileName] = struct{}{}
		usedIDs[info.FileID] = struct{}{}
	}

	fileName := allocateName(taken)
	fileID, err := allocateID(usedIDs)
	if err != nil {
		return File{}, fmt.Errorf("%w: %v", ErrCreateFile, err)
	}

	if err := c.store.Upsert(ctx, sessionID, fileID, fileName, "", writerUserID); err != nil {
		c.logger.Error("file creation write failed",
			zap.String("session_id", sessionID),
			zap.String("file_id", fileID),
			zap.Error(err))
		return File{}, fmt.Errorf("%w: %v", ErrCreateFile, err)
	}
	return File{FileID: fileID, FileName: fileName}, nil
}

// EnsureFile returns the record for fileID, lazily creating an empty
// one when the pair has never been read or written. Lazily created
// files take the next free name in the untitled series.
func (c *Catalog) EnsureFile(ctx context.Context, sessionID, fileID string) (document.Record, error) {
	record, err := c.store.Load(ctx, sessionID, fileID)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, document.ErrNotFound) {
		return document.Record{}, err
	}

	fileName := DefaultFileName
	if fileID != DefaultFileID {
		existing, err := c.store.ListFiles(ctx, sessionID)
		if err != nil {
			return document.Record{}, err
		}
		taken := make(map[string]struct{}, len(existing))
		for _, info := range existing {
			taken[info.FileName] = struct{}{}
		}
		fileName = allocateName(taken)
	}

	if err := c.store.Upsert(ctx, sessionID, fileID, fileName, "", ""); err != nil {
		return document.Record{}, err
	}
	return c.store.Load(ctx, sessionID, fileID)
}

// List returns the session's files sorted by file name.
func (c *Catalog) List(ctx context.Context, sessionID string) ([]File, error) {
	infos, err := c.store.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	files := make([]File, 0, len(infos))
	for _, info := range infos {
		files = append(files, File{FileID: info.FileID, FileName: info.FileName})
	}
	return files, nil
}

func allocateName(taken map[string]struct{}) string {
	if _, ok := taken[DefaultFileName]; !ok {
		return DefaultFileName
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("untitled-%d.txt", n)
		if _, ok := taken[candidate]; !ok {
			return candidate
		}
	}
}

func allocateID(used map[string]struct{}) (string, error) {
	for {
		raw := make([]byte, fileIDBytes)
		if _, err := rand.Read(raw); err != nil {
			return "", err
		}
		candidate := hex.EncodeToString(raw)
		if _, ok := used[candidate]; !ok {
			return candidate, nil
		}
	}
}
