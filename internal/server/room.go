package server

import "sync"

const clientBufferSize = 32

// Hub tracks the live connections of every session and fans broadcast
// frames out to them. Sends are non-blocking: a client whose buffer is
// full misses the frame rather than stalling the room.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Client
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]map[string]*Client)}
}

// Join registers the client in the session's room.
func (h *Hub) Join(sessionID string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[sessionID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[sessionID] = room
	}
	room[client.ID()] = client
}

// Leave removes the connection from the session's room.
func (h *Hub) Leave(sessionID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[sessionID]
	if room == nil {
		return
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(h.rooms, sessionID)
	}
}

// Broadcast delivers the frame to every member of the session,
// including the originator.
func (h *Hub) Broadcast(sessionID string, frame []byte) {
	h.mu.RLock()
	room := h.rooms[sessionID]
	members := make([]*Client, 0, len(room))
	for _, client := range room {
		members = append(members, client)
	}
	h.mu.RUnlock()

	for _, client := range members {
		client.Send(frame)
	}
}

// CloseAll closes every live client, used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	clients := make([]*Client, 0)
	for _, room := range h.rooms {
		for _, client := range room {
			clients = append(clients, client)
		}
	}
	h.rooms = make(map[string]map[string]*Client)
	h.mu.Unlock()

	for _, client := range clients {
		client.Close()
	}
}
