package server

import (
	"testing"

	"go.uber.org/zap"
)

func drain(c *Client) [][]byte {
	var frames [][]byte
	for {
		select {
		case frame := <-c.frames:
			frames = append(frames, frame)
		default:
			return frames
		}
	}
}

func TestHubBroadcastReachesAllMembers(t *testing.T) {
	hub := NewHub()
	first := NewClient("conn-1", nil, zap.NewNop())
	second := NewClient("conn-2", nil, zap.NewNop())
	hub.Join("abc123", first)
	hub.Join("abc123", second)

	hub.Broadcast("abc123", []byte(`{"event":"userCount","data":2}`))

	if frames := drain(first); len(frames) != 1 {
		t.Fatalf("expected 1 frame for first member, got %d", len(frames))
	}
	if frames := drain(second); len(frames) != 1 {
		t.Fatalf("expected 1 frame for second member, got %d", len(frames))
	}
}

func TestHubIsolatesSessions(t *testing.T) {
	hub := NewHub()
	member := NewClient("conn-1", nil, zap.NewNop())
	outsider := NewClient("conn-2", nil, zap.NewNop())
	hub.Join("abc123", member)
	hub.Join("xyz789", outsider)

	hub.Broadcast("abc123", []byte("frame"))

	if frames := drain(outsider); len(frames) != 0 {
		t.Fatalf("expected no frames for other session, got %d", len(frames))
	}
}

func TestHubLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	member := NewClient("conn-1", nil, zap.NewNop())
	hub.Join("abc123", member)
	hub.Leave("abc123", "conn-1")

	hub.Broadcast("abc123", []byte("frame"))

	if frames := drain(member); len(frames) != 0 {
		t.Fatalf("expected no frames after leave, got %d", len(frames))
	}
}

func TestClientSendDropsWhenSaturated(t *testing.T) {
	client := NewClient("conn-1", nil, zap.NewNop())
	for i := 0; i < clientBufferSize+5; i++ {
		client.Send([]byte("frame"))
	}
	if frames := drain(client); len(frames) != clientBufferSize {
		t.Fatalf("expected buffer capped at %d, got %d", clientBufferSize, len(frames))
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	client := NewClient("conn-1", nil, zap.NewNop())
	client.Close()
	client.Close()
	client.Send([]byte("frame"))
}
