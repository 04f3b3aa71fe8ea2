// Package presence tracks live membership and cursor offsets per
// session. Entries exist only while the owning connection is attached.
package presence

import "sync"

// Cursor is one connection's live cursor state.
type Cursor struct {
	Offset int
	UserID string
	FileID string
}

// Table holds per-session cursor entries keyed by connection id.
//
// The snapshot is session-wide rather than partitioned by file: cursors
// from every file in the session appear in every broadcast. FileID is
// recorded on each entry so clients can filter for their working file.
type Table struct {
	mu       sync.Mutex
	sessions map[string]map[string]Cursor
}

// NewTable constructs an empty presence table.
func NewTable() *Table {
	return &Table{sessions: make(map[string]map[string]Cursor)}
}

// Attach inserts a zero-offset entry for the connection and returns the
// updated member count.
func (t *Table) Attach(sessionID, connID, userID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries, ok := t.sessions[sessionID]
	if !ok {
		entries = make(map[string]Cursor)
		t.sessions[sessionID] = entries
	}
	entries[connID] = Cursor{Offset: 0, UserID: userID}
	return len(entries)
}

// Detach removes the connection's entry and returns the updated member
// count.
func (t *Table) Detach(sessionID, connID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.sessions[sessionID]
	if entries == nil {
		return 0
	}
	delete(entries, connID)
	if len(entries) == 0 {
		delete(t.sessions, sessionID)
		return 0
	}
	return len(entries)
}

// SetCursor records the connection's cursor, clamping offset to zero.
// The userID on the entry is preserved; a detached connection is
// ignored.
func (t *Table) SetCursor(sessionID, connID, fileID string, offset int) {
	if offset < 0 {
		offset = 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.sessions[sessionID]
	if entries == nil {
		return
	}
	entry, ok := entries[connID]
	if !ok {
		return
	}
	entry.Offset = offset
	entry.FileID = fileID
	entries[connID] = entry
}

// Rebind updates the user identity recorded for a connection, used when
// a connection re-resolves its identity after attach.
func (t *Table) Rebind(sessionID, connID, userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.sessions[sessionID]
	if entries == nil {
		return
	}
	entry, ok := entries[connID]
	if !ok {
		return
	}
	entry.UserID = userID
	entries[connID] = entry
}

// Snapshot copies the session's cursor entries keyed by connection id.
func (t *Table) Snapshot(sessionID string) map[string]Cursor {
	t.mu.Lock()
	defer t.mu.Unlock()
	entries := t.sessions[sessionID]
	snapshot := make(map[string]Cursor, len(entries))
	for connID, entry := range entries {
		snapshot[connID] = entry
	}
	return snapshot
}

// Count returns the number of attached connections for the session.
func (t *Table) Count(sessionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions[sessionID])
}
