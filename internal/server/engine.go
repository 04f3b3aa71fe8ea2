package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillpadhq/quillpad/backend/internal/admission"
	"github.com/quillpadhq/quillpad/backend/internal/catalog"
	"github.com/quillpadhq/quillpad/backend/internal/document"
	"github.com/quillpadhq/quillpad/backend/internal/identity"
	"github.com/quillpadhq/quillpad/backend/internal/presence"
	"github.com/quillpadhq/quillpad/backend/internal/protocol"
	"github.com/quillpadhq/quillpad/backend/internal/session"
)

const defaultFlushGrace = 500 * time.Millisecond

var (
	errMissingGuard      = errors.New("admission guard dependency required")
	errMissingSessions   = errors.New("session registry dependency required")
	errMissingIdentities = errors.New("identity registry dependency required")
	errMissingCatalog    = errors.New("file catalog dependency required")
	errMissingDocuments  = errors.New("document store dependency required")
	errMissingPresence   = errors.New("presence table dependency required")
)

// EngineConfig wires the synchronization engine's collaborators.
type EngineConfig struct {
	Guard      *admission.Guard
	Sessions   *session.Registry
	Identities *identity.Registry
	Catalog    *catalog.Catalog
	Documents  *document.Store
	Presence   *presence.Table
	Logger     *zap.Logger
	// FlushGrace is how long a rejected connection is kept open so the
	// error frame reaches the client before teardown.
	FlushGrace time.Duration
	Clock      func() time.Time
}

// Engine orchestrates the per-connection protocol: admission, session
// binding, the event loop, and room-wide broadcasts.
type Engine struct {
	guard      *admission.Guard
	sessions   *session.Registry
	identities *identity.Registry
	catalog    *catalog.Catalog
	documents  *document.Store
	presence   *presence.Table
	hub        *Hub
	logger     *zap.Logger
	flushGrace time.Duration
	clock      func() time.Time
}

// NewEngine validates the config and constructs an Engine.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Guard == nil {
		return nil, errMissingGuard
	}
	if cfg.Sessions == nil {
		return nil, errMissingSessions
	}
	if cfg.Identities == nil {
		return nil, errMissingIdentities
	}
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	if cfg.Documents == nil {
		return nil, errMissingDocuments
	}
	if cfg.Presence == nil {
		return nil, errMissingPresence
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	flushGrace := cfg.FlushGrace
	if flushGrace <= 0 {
		flushGrace = defaultFlushGrace
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		guard:      cfg.Guard,
		sessions:   cfg.Sessions,
		identities: cfg.Identities,
		catalog:    cfg.Catalog,
		documents:  cfg.Documents,
		presence:   cfg.Presence,
		hub:        NewHub(),
		logger:     logger,
		flushGrace: flushGrace,
		clock:      clock,
	}, nil
}

// Hub exposes the engine's room broadcaster, used during shutdown.
func (e *Engine) Hub() *Hub {
	return e.hub
}

// ConnectParams are the query parameters of the websocket handshake.
type ConnectParams struct {
	SessionID string
	IsPrivate bool
	Password  string
	UserID    string
}

// connState is the engine-side view of one active connection.
type connState struct {
	client  *Client
	session *session.Session
	userID  string
	fileID  string
}

// Serve drives one connection from admission to disconnect. It blocks
// until the connection is gone and owns all cleanup.
func (e *Engine) Serve(ctx context.Context, sock *websocket.Conn, params ConnectParams, sourceAddress string) {
	connUUID, err := uuid.NewV7()
	if err != nil {
		e.logger.Error("connection id generation failed", zap.Error(err))
		_ = sock.Close()
		return
	}
	client := NewClient(connUUID.String(), sock, e.logger)
	go client.WritePump()

	// Admitting: guard, then session policy, then identity. Every
	// rejection emits exactly one error frame before teardown.
	if err := e.guard.Admit(sourceAddress, e.clock()); err != nil {
		e.logger.Warn("connection rate limited", zap.String("source_address", sourceAddress))
		e.reject(client, protocol.MsgTooManyConnections)
		return
	}

	bound, err := e.sessions.Resolve(params.SessionID, params.Password, params.IsPrivate)
	if err != nil {
		e.reject(client, admissionErrorMessage(err))
		return
	}

	userID, _, err := e.identities.Resolve(params.UserID)
	if err != nil {
		e.logger.Error("identity resolution failed", zap.Error(err))
		e.reject(client, protocol.MsgFailedLoadSession)
		return
	}

	state := &connState{
		client:  client,
		session: bound,
		userID:  userID,
		fileID:  catalog.DefaultFileID,
	}

	if err := e.bind(ctx, state); err != nil {
		e.logger.Error("initial session load failed",
			zap.String("session_id", bound.ID()), zap.Error(err))
		e.reject(client, protocol.MsgFailedLoadSession)
		return
	}

	e.logger.Info("connection bound",
		zap.String("conn_id", client.ID()),
		zap.String("session_id", bound.ID()),
		zap.String("user_id", userID),
		zap.String("source_address", sourceAddress))

	defer e.disconnect(state)

	for {
		_, frame, err := sock.ReadMessage()
		if err != nil {
			return
		}
		envelope, err := protocol.Decode(frame)
		if err != nil {
			e.logger.Warn("malformed frame dropped",
				zap.String("conn_id", client.ID()), zap.Error(err))
			continue
		}
		if fatal := e.dispatch(ctx, state, envelope); fatal {
			return
		}
	}
}

// bind runs the Bound transition: default file provisioning, initial
// state push, presence attach, and the room-wide member count.
func (e *Engine) bind(ctx context.Context, state *connState) error {
	sessionID := state.session.ID()

	state.session.Lock()
	defer state.session.Unlock()

	if err := e.catalog.EnsureDefault(ctx, sessionID); err != nil {
		return err
	}
	record, err := e.documents.Load(ctx, sessionID, catalog.DefaultFileID)
	if err != nil {
		return err
	}

	count := e.presence.Attach(sessionID, state.client.ID(), state.userID)
	e.hub.Join(sessionID, state.client)

	e.send(state.client, protocol.EventInit, record.Content)
	e.send(state.client, protocol.EventSessionType, protocol.SessionTypePayload{IsPublic: state.session.IsPublic()})
	e.send(state.client, protocol.EventSetUserID, protocol.SetUserIDPayload{UserID: state.userID})
	e.broadcast(sessionID, protocol.EventUserCount, count)
	return nil
}

// disconnect removes the connection's presence entry and binding, then
// announces the shrunken room. Terminal.
func (e *Engine) disconnect(state *connState) {
	sessionID := state.session.ID()

	state.session.Lock()
	count := e.presence.Detach(sessionID, state.client.ID())
	e.hub.Leave(sessionID, state.client.ID())
	e.broadcast(sessionID, protocol.EventUserCount, count)
	state.session.Unlock()

	state.client.Close()
	e.logger.Info("connection closed",
		zap.String("conn_id", state.client.ID()),
		zap.String("session_id", sessionID))
}

// dispatch routes one decoded event. Events for the same session are
// processed to completion under the session lock, which is what keeps
// registry, catalog, presence, and document mutations mutually atomic
// and broadcasts FIFO per session. The returned flag is true when the
// event was fatal to the connection.
func (e *Engine) dispatch(ctx context.Context, state *connState, envelope protocol.Envelope) bool {
	switch envelope.Event {
	case protocol.EventSetUserID:
		var request protocol.SetUserIDRequest
		if !e.decodePayload(state, envelope, &request) {
			return false
		}
		e.withSessionLock(state, func() {
			e.handleSetUserID(state, request)
		})

	case protocol.EventCreateFile:
		e.withSessionLock(state, func() {
			e.handleCreateFile(ctx, state)
		})

	case protocol.EventGetFiles:
		e.withSessionLock(state, func() {
			e.handleGetFiles(ctx, state)
		})

	case protocol.EventSwitchFile:
		var request protocol.SwitchFileRequest
		if !e.decodePayload(state, envelope, &request) {
			return false
		}
		if request.FileID == "" {
			// Missing file id is fatal to the connection.
			e.reject(state.client, protocol.MsgFailedSwitchFile)
			return true
		}
		e.withSessionLock(state, func() {
			e.handleSwitchFile(ctx, state, request)
		})

	case protocol.EventEdit:
		var request protocol.EditRequest
		if !e.decodePayload(state, envelope, &request) {
			return false
		}
		e.withSessionLock(state, func() {
			e.handleEdit(ctx, state, request)
		})

	case protocol.EventCursor:
		var request protocol.CursorRequest
		if !e.decodePayload(state, envelope, &request) {
			return false
		}
		e.withSessionLock(state, func() {
			e.handleCursor(state, request)
		})

	default:
		e.logger.Warn("unknown event dropped",
			zap.String("conn_id", state.client.ID()),
			zap.String("event", envelope.Event))
	}
	return false
}

func (e *Engine) handleSetUserID(state *connState, request protocol.SetUserIDRequest) {
	resolved, issued, err := e.identities.Resolve(request.UserID)
	if err != nil {
		e.logger.Error("identity re-resolution failed", zap.Error(err))
		return
	}
	if issued {
		e.logger.Info("unrecognized user id replaced",
			zap.String("conn_id", state.client.ID()),
			zap.String("user_id", resolved))
	}
	state.userID = resolved
	e.presence.Rebind(state.session.ID(), state.client.ID(), resolved)

	if request.IsCreator {
		state.session.ClaimCreator(resolved)
	}

	e.send(state.client, protocol.EventSetUserID, protocol.SetUserIDPayload{UserID: resolved})
	e.send(state.client, protocol.EventIsCreator, state.session.IsCreator(resolved))
}

func (e *Engine) handleCreateFile(ctx context.Context, state *connState) {
	created, err := e.catalog.Create(ctx, state.session.ID(), state.userID)
	if err != nil {
		e.send(state.client, protocol.EventError, protocol.MsgFailedCreateFile)
		return
	}
	e.broadcast(state.session.ID(), protocol.EventFileCreated, protocol.FileRef{
		FileID:   created.FileID,
		FileName: created.FileName,
	})
	// The requester starts working in the new file; everyone else stays.
	state.fileID = created.FileID
}

func (e *Engine) handleGetFiles(ctx context.Context, state *connState) {
	files, err := e.catalog.List(ctx, state.session.ID())
	if err != nil {
		e.send(state.client, protocol.EventError, protocol.MsgFailedLoadSession)
		return
	}
	payload := protocol.FilesPayload{Files: make([]protocol.FileRef, 0, len(files))}
	for _, file := range files {
		payload.Files = append(payload.Files, protocol.FileRef{
			FileID:   file.FileID,
			FileName: file.FileName,
		})
	}
	e.send(state.client, protocol.EventFiles, payload)
}

func (e *Engine) handleSwitchFile(ctx context.Context, state *connState, request protocol.SwitchFileRequest) {
	record, err := e.catalog.EnsureFile(ctx, state.session.ID(), request.FileID)
	if err != nil {
		e.send(state.client, protocol.EventError, protocol.MsgFailedSwitchFile)
		return
	}
	state.fileID = request.FileID
	e.send(state.client, protocol.EventSwitchFile, protocol.SwitchFilePayload{
		FileID:   record.FileID,
		Content:  record.Content,
		FileName: record.FileName,
	})
}

func (e *Engine) handleEdit(ctx context.Context, state *connState, request protocol.EditRequest) {
	fileID := request.FileID
	if fileID == "" {
		fileID = state.fileID
	}
	sessionID := state.session.ID()

	record, err := e.catalog.EnsureFile(ctx, sessionID, fileID)
	if err != nil {
		e.send(state.client, protocol.EventError, protocol.MsgFailedSaveEdit)
		return
	}
	if err := e.documents.Upsert(ctx, sessionID, fileID, record.FileName, request.Content, state.userID); err != nil {
		// Persist-before-broadcast: a failed write reaches nobody else.
		e.send(state.client, protocol.EventError, protocol.MsgFailedSaveEdit)
		return
	}

	e.presence.SetCursor(sessionID, state.client.ID(), fileID, request.CursorOffset)
	e.broadcast(sessionID, protocol.EventUpdate, protocol.UpdatePayload{
		Content: request.Content,
		Cursors: e.cursorSnapshot(sessionID),
		FileID:  fileID,
		UserID:  state.userID,
	})
}

func (e *Engine) handleCursor(state *connState, request protocol.CursorRequest) {
	fileID := request.FileID
	if fileID == "" {
		fileID = state.fileID
	}
	sessionID := state.session.ID()
	e.presence.SetCursor(sessionID, state.client.ID(), fileID, request.Offset)
	e.broadcast(sessionID, protocol.EventUpdateCursors, protocol.UpdateCursorsPayload{
		Cursors: e.cursorSnapshot(sessionID),
		FileID:  fileID,
	})
}

func (e *Engine) withSessionLock(state *connState, handler func()) {
	state.session.Lock()
	defer state.session.Unlock()
	handler()
}

// decodePayload unmarshals an event payload; a malformed one is logged
// and the event dropped without tearing down the connection.
func (e *Engine) decodePayload(state *connState, envelope protocol.Envelope, target any) bool {
	if len(envelope.Data) == 0 {
		e.logger.Warn("event missing payload",
			zap.String("conn_id", state.client.ID()),
			zap.String("event", envelope.Event))
		return false
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		e.logger.Warn("malformed payload dropped",
			zap.String("conn_id", state.client.ID()),
			zap.String("event", envelope.Event),
			zap.Error(err))
		return false
	}
	return true
}

func (e *Engine) cursorSnapshot(sessionID string) map[string]protocol.CursorEntry {
	snapshot := e.presence.Snapshot(sessionID)
	cursors := make(map[string]protocol.CursorEntry, len(snapshot))
	for connID, entry := range snapshot {
		cursors[connID] = protocol.CursorEntry{
			Offset: entry.Offset,
			UserID: entry.UserID,
			FileID: entry.FileID,
		}
	}
	return cursors
}

func (e *Engine) send(client *Client, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		e.logger.Error("frame encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	client.Send(frame)
}

func (e *Engine) broadcast(sessionID, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		e.logger.Error("broadcast encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	e.hub.Broadcast(sessionID, frame)
}

// reject emits the error frame, waits out the flush grace so the frame
// is observably sent, then tears the connection down.
func (e *Engine) reject(client *Client, message string) {
	client.Send(protocol.ErrorFrame(message))
	time.Sleep(e.flushGrace)
	client.Close()
}

func admissionErrorMessage(err error) string {
	switch {
	case errors.Is(err, session.ErrInvalidSessionID):
		return protocol.MsgInvalidSessionID
	case errors.Is(err, session.ErrInvalidPassword):
		return protocol.MsgInvalidPassword
	default:
		return protocol.MsgFailedLoadSession
	}
}
