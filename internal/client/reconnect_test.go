package client

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quillpadhq/quillpad/backend/internal/protocol"
)

func failingDial(err error) DialFunc {
	return func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
		return nil, nil, err
	}
}

func TestConnectBacksOffExponentially(t *testing.T) {
	var delays []time.Duration
	controller, err := NewController(Config{
		URL:   "ws://example.invalid/ws",
		Dial:  failingDial(errors.New("refused")),
		Sleep: func(d time.Duration) { delays = append(delays, d) },
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	_, err = controller.Connect(context.Background())
	if !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}

	expected := []time.Duration{
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}
	if len(delays) != len(expected) {
		t.Fatalf("expected %d sleeps, got %d: %v", len(expected), len(delays), delays)
	}
	for index, want := range expected {
		if delays[index] != want {
			t.Fatalf("sleep %d: expected %s, got %s", index, want, delays[index])
		}
	}
}

func TestBackoffIsCappedAtMaxDelay(t *testing.T) {
	var delays []time.Duration
	controller, err := NewController(Config{
		URL:         "ws://example.invalid/ws",
		Dial:        failingDial(errors.New("refused")),
		MaxAttempts: 7,
		Sleep:       func(d time.Duration) { delays = append(delays, d) },
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	if _, err := controller.Connect(context.Background()); err == nil {
		t.Fatal("expected failure")
	}
	// 1s, 2s, 4s, 8s, then pinned to the 10s ceiling.
	if delays[4] != 10*time.Second || delays[5] != 10*time.Second {
		t.Fatalf("expected capped delays, got %v", delays)
	}
}

func TestConnectSucceedsMidBudget(t *testing.T) {
	attempts := 0
	server := newEchoServer(t)
	defer server.close()

	controller, err := NewController(Config{
		URL: server.url,
		Dial: func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
			attempts++
			if attempts < 3 {
				return nil, nil, errors.New("refused")
			}
			return websocket.DefaultDialer.DialContext(ctx, url, nil)
		},
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	conn, err := controller.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer conn.Close()
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRateLimitErrorStartsCooldown(t *testing.T) {
	now := time.Unix(5000, 0)
	controller, err := NewController(Config{
		URL:   "ws://example.invalid/ws",
		Dial:  failingDial(errors.New("refused")),
		Clock: func() time.Time { return now },
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	controller.HandleServerError(protocol.MsgTooManyConnections)

	if _, err := controller.Connect(context.Background()); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown, got %v", err)
	}

	// 29s in: still cooling down.
	now = now.Add(29 * time.Second)
	if _, err := controller.Connect(context.Background()); !errors.Is(err, ErrCoolingDown) {
		t.Fatalf("expected ErrCoolingDown at 29s, got %v", err)
	}

	// Past the 30s window the dial budget applies again.
	now = now.Add(2 * time.Second)
	if _, err := controller.Connect(context.Background()); !errors.Is(err, ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted after cooldown, got %v", err)
	}
}

func TestOtherServerErrorsDoNotCooldown(t *testing.T) {
	controller, err := NewController(Config{
		URL:   "ws://example.invalid/ws",
		Dial:  failingDial(errors.New("refused")),
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	controller.HandleServerError(protocol.MsgInvalidPassword)

	if _, err := controller.Connect(context.Background()); errors.Is(err, ErrCoolingDown) {
		t.Fatal("non-rate-limit errors must not start a cooldown")
	}
}

func TestConnectHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	controller, err := NewController(Config{
		URL:   "ws://example.invalid/ws",
		Dial:  failingDial(errors.New("refused")),
		Sleep: func(time.Duration) {},
	})
	if err != nil {
		t.Fatalf("failed to build controller: %v", err)
	}

	if _, err := controller.Connect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
