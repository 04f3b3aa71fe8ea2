// Package identity issues and validates the opaque per-user tokens that
// clients hold across reconnects. A token asserted by a client is only
// accepted if this registry issued it; anything else is replaced with a
// freshly issued token, which prevents identity spoofing.
package identity

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const tokenBytes = 5 // 10 hex characters

// IssuedToken records a token handed out by the registry so that
// client-held identities survive a server restart.
type IssuedToken struct {
	UserID     string    `gorm:"column:user_id;primaryKey;size:64;not null"`
	IssuedAt   time.Time `gorm:"column:issued_at;autoCreateTime"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;autoUpdateTime"`
}

// TableName exposes the table backing issued identities.
func (IssuedToken) TableName() string {
	return "issued_identities"
}

// RegistryConfig describes the dependencies of the identity registry.
// Database is optional: without it the registry is memory-only and
// identities last for the process lifetime.
type RegistryConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Registry issues and re-validates user identity tokens.
type Registry struct {
	db     *gorm.DB
	now    func() time.Time
	logger *zap.Logger
	known  sync.Map
}

// NewRegistry constructs the registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		db:     cfg.Database,
		now:    clock,
		logger: logger,
	}
}

// Issue mints a fresh token and records it as known.
func (r *Registry) Issue() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("identity: issue token: %w", err)
	}
	token := hex.EncodeToString(raw)
	r.remember(token)
	return token, nil
}

// Resolve returns the identity bound to the candidate token. A known
// candidate is accepted as-is; an empty or unrecognized one yields a
// freshly issued token, reported via issued=true so the caller can tell
// the client to persist the replacement.
func (r *Registry) Resolve(candidate string) (userID string, issued bool, err error) {
	if candidate != "" && r.isKnown(candidate) {
		r.touch(candidate)
		return candidate, false, nil
	}
	token, err := r.Issue()
	if err != nil {
		return "", false, err
	}
	return token, true, nil
}

func (r *Registry) isKnown(token string) bool {
	if _, ok := r.known.Load(token); ok {
		return true
	}
	if r.db == nil {
		return false
	}
	var record IssuedToken
	err := r.db.Where("user_id = ?", token).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if err != nil {
		r.logger.Warn("identity lookup failed", zap.Error(err))
		return false
	}
	r.known.Store(token, struct{}{})
	return true
}

func (r *Registry) remember(token string) {
	r.known.Store(token, struct{}{})
	if r.db == nil {
		return
	}
	record := IssuedToken{UserID: token, IssuedAt: r.now(), LastSeenAt: r.now()}
	if err := r.db.Create(&record).Error; err != nil {
		// Memory-only degradation: the token still works until restart.
		r.logger.Warn("identity persist failed", zap.Error(err))
	}
}

func (r *Registry) touch(token string) {
	if r.db == nil {
		return
	}
	err := r.db.Model(&IssuedToken{}).
		Where("user_id = ?", token).
		Update("last_seen_at", r.now()).Error
	if err != nil {
		r.logger.Warn("identity touch failed", zap.Error(err))
	}
}
