// Package protocol defines the message-framed wire contract between the
// collaboration engine and its clients. Every frame is a JSON envelope
// {"event": ..., "data": ...} carried in a websocket text message.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Client-to-server event names.
const (
	EventSetUserID  = "setUserId"
	EventCreateFile = "createFile"
	EventGetFiles   = "getFiles"
	EventSwitchFile = "switchFile"
	EventEdit       = "edit"
	EventCursor     = "cursor"
)

// Server-to-client event names.
const (
	EventInit          = "init"
	EventSessionType   = "sessionType"
	EventIsCreator     = "isCreator"
	EventUserCount     = "userCount"
	EventFileCreated   = "fileCreated"
	EventFiles         = "files"
	EventUpdate        = "update"
	EventUpdateCursors = "updateCursors"
	EventError         = "error"
)

// The fixed error messages a client may receive. Clients match on these
// strings, so they are part of the wire contract.
const (
	MsgInvalidSessionID   = "Invalid session ID"
	MsgInvalidPassword    = "Invalid Password"
	MsgTooManyConnections = "Too many connections"
	MsgFailedCreateFile   = "Failed to create file"
	MsgFailedSwitchFile   = "Failed to switch file"
	MsgFailedSaveEdit     = "Failed to save edit"
	MsgFailedLoadSession  = "Failed to load session"
)

// Envelope frames every message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// CursorEntry is one member's cursor inside a broadcast snapshot, keyed
// by connection id in the enclosing map.
type CursorEntry struct {
	Offset int    `json:"offset"`
	UserID string `json:"userId"`
	FileID string `json:"fileId"`
}

// FileRef identifies a file within a session.
type FileRef struct {
	FileID   string `json:"fileId"`
	FileName string `json:"fileName"`
}

// SetUserIDRequest asks the server to bind a previously issued identity
// and optionally assert session creatorship.
type SetUserIDRequest struct {
	UserID    string `json:"userId"`
	IsCreator bool   `json:"isCreator"`
}

// SwitchFileRequest selects the connection's working file.
type SwitchFileRequest struct {
	FileID string `json:"fileId"`
}

// EditRequest replaces the content of a file. ClientID is an opaque tag
// the client uses to recognize its own echo.
type EditRequest struct {
	Content      string `json:"content"`
	CursorOffset int    `json:"cursorOffset"`
	FileID       string `json:"fileId"`
	ClientID     string `json:"clientId"`
}

// CursorRequest reports the connection's cursor offset.
type CursorRequest struct {
	Offset int    `json:"offset"`
	FileID string `json:"fileId"`
}

// SessionTypePayload announces whether the session is public.
type SessionTypePayload struct {
	IsPublic bool `json:"isPublic"`
}

// SetUserIDPayload confirms the identity bound to the connection.
type SetUserIDPayload struct {
	UserID string `json:"userId"`
}

// FilesPayload lists the session's files in name order.
type FilesPayload struct {
	Files []FileRef `json:"files"`
}

// SwitchFilePayload carries the content of a newly selected file.
type SwitchFilePayload struct {
	FileID   string `json:"fileId"`
	Content  string `json:"content"`
	FileName string `json:"fileName"`
}

// UpdatePayload broadcasts an accepted edit to the whole room.
type UpdatePayload struct {
	Content string                 `json:"content"`
	Cursors map[string]CursorEntry `json:"cursors"`
	FileID  string                 `json:"fileId"`
	UserID  string                 `json:"userId"`
}

// UpdateCursorsPayload broadcasts the room's cursor snapshot.
type UpdateCursorsPayload struct {
	Cursors map[string]CursorEntry `json:"cursors"`
	FileID  string                 `json:"fileId"`
}

// Encode marshals an event and payload into a framed envelope.
func Encode(event string, payload any) ([]byte, error) {
	envelope := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
		}
		envelope.Data = data
	}
	frame, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("protocol: encode %s: %w", event, err)
	}
	return frame, nil
}

// Decode unmarshals a raw frame into its envelope.
func Decode(frame []byte) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(frame, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode: %w", err)
	}
	if envelope.Event == "" {
		return Envelope{}, fmt.Errorf("protocol: decode: missing event name")
	}
	return envelope, nil
}

// ErrorFrame builds the single error event emitted on a rejection path.
func ErrorFrame(message string) []byte {
	frame, err := Encode(EventError, message)
	if err != nil {
		// message is a plain string; marshalling cannot fail.
		panic(err)
	}
	return frame
}
