// Package session owns session admission policy and creator election.
// Sessions are created lazily on first reference and live for the
// process lifetime; the first connection to reference an id fixes the
// session's privacy mode and password (first-writer-wins).
package session

import (
	"errors"
	"regexp"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidSessionID indicates a malformed session identifier.
	ErrInvalidSessionID = errors.New("session: invalid session id")
	// ErrInvalidPassword indicates a wrong password for a private session.
	ErrInvalidPassword = errors.New("session: invalid password")
)

var sessionIDPattern = regexp.MustCompile(`^[a-z0-9]{6}$`)

// Session is the process-wide state of one collaboration room. All
// registry, catalog, presence, and document mutations for the session
// must run while holding its lock; unrelated sessions never contend.
type Session struct {
	// serial is the per-session serialization lock held by the engine
	// across each event; mu guards the session's own fields and is safe
	// to take while serial is held.
	serial sync.Mutex
	mu     sync.Mutex

	id           string
	isPublic     bool
	passwordHash []byte
	creatorID    string
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// IsPublic reports whether the session admits members without a password.
func (s *Session) IsPublic() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isPublic
}

// Lock acquires the per-session serialization lock.
func (s *Session) Lock() {
	s.serial.Lock()
}

// Unlock releases the per-session serialization lock.
func (s *Session) Unlock() {
	s.serial.Unlock()
}

// ClaimCreator latches userID as the session's creator. Only the first
// assertion on a private session with a password sticks; later claims
// are no-ops. Idempotent for the latched creator.
func (s *Session) ClaimCreator(userID string) {
	if userID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isPublic || len(s.passwordHash) == 0 {
		return
	}
	if s.creatorID == "" {
		s.creatorID = userID
	}
}

// IsCreator reports whether userID is the latched creator.
func (s *Session) IsCreator(userID string) bool {
	if userID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creatorID == userID
}

func (s *Session) checkPassword(supplied string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isPublic {
		return nil
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(supplied)); err != nil {
		return ErrInvalidPassword
	}
	return nil
}

// RegistryConfig describes the dependencies of the session registry.
type RegistryConfig struct {
	Logger *zap.Logger
}

// Registry maps session ids to their process-wide state.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	logger   *zap.Logger
}

// NewRegistry constructs an empty registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		logger:   logger,
	}
}

// Resolve validates the session id, creates the session on first
// reference, and enforces the password of a private session. The
// returned Session is shared by every connection bound to that id.
func (r *Registry) Resolve(sessionID, password string, isPrivate bool) (*Session, error) {
	if !sessionIDPattern.MatchString(sessionID) {
		return nil, ErrInvalidSessionID
	}

	r.mu.Lock()
	existing, ok := r.sessions[sessionID]
	if !ok {
		created, err := newSession(sessionID, password, isPrivate)
		if err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.sessions[sessionID] = created
		r.mu.Unlock()
		r.logger.Info("session created",
			zap.String("session_id", sessionID),
			zap.Bool("is_public", created.isPublic))
		return created, nil
	}
	r.mu.Unlock()

	if err := existing.checkPassword(password); err != nil {
		return nil, err
	}
	return existing, nil
}

// Lookup returns an already-resolved session, or nil.
func (r *Registry) Lookup(sessionID string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[sessionID]
}

func newSession(sessionID, password string, isPrivate bool) (*Session, error) {
	created := &Session{
		id:       sessionID,
		isPublic: !isPrivate,
	}
	if isPrivate {
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		created.passwordHash = hash
	}
	return created, nil
}
