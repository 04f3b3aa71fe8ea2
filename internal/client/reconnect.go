// Package client implements the reconnection contract the server's
// error and disconnect signals are designed against: exponential
// backoff with a bounded attempt budget, and a cooldown after the
// server reports a connection-rate rejection.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quillpadhq/quillpad/backend/internal/protocol"
)

const (
	defaultBaseDelay   = time.Second
	defaultMaxDelay    = 10 * time.Second
	defaultMaxAttempts = 5
	defaultCooldown    = 30 * time.Second
)

var (
	// ErrAttemptsExhausted indicates every dial attempt failed.
	ErrAttemptsExhausted = errors.New("client: reconnect attempts exhausted")
	// ErrCoolingDown indicates the rate-limit cooldown is still active.
	ErrCoolingDown = errors.New("client: cooling down after rate limit")
)

// DialFunc establishes one websocket connection attempt.
type DialFunc func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error)

// Config tunes the reconnection controller. Zero values fall back to
// the contract defaults: 1s base delay doubling to a 10s ceiling, five
// attempts, 30s rate-limit cooldown.
type Config struct {
	URL         string
	Dial        DialFunc
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Cooldown    time.Duration
	Clock       func() time.Time
	Sleep       func(time.Duration)
	Logger      *zap.Logger
}

// Controller dials the engine with the contract's retry policy.
type Controller struct {
	url         string
	dial        DialFunc
	baseDelay   time.Duration
	maxDelay    time.Duration
	maxAttempts int
	cooldown    time.Duration
	clock       func() time.Time
	sleep       func(time.Duration)
	logger      *zap.Logger

	mu            sync.Mutex
	cooldownUntil time.Time
}

// NewController validates the config and constructs a Controller.
func NewController(cfg Config) (*Controller, error) {
	if cfg.URL == "" {
		return nil, errors.New("client: url is required")
	}
	dial := cfg.Dial
	if dial == nil {
		dial = func(ctx context.Context, url string) (*websocket.Conn, *http.Response, error) {
			return websocket.DefaultDialer.DialContext(ctx, url, nil)
		}
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		url:         cfg.URL,
		dial:        dial,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		maxAttempts: maxAttempts,
		cooldown:    cooldown,
		clock:       clock,
		sleep:       sleep,
		logger:      logger,
	}, nil
}

// Connect dials until a connection is established or the attempt budget
// runs out. Attempt n waits min(baseDelay * 2^n, maxDelay) before the
// next try. Connect fails fast while the rate-limit cooldown is active.
func (c *Controller) Connect(ctx context.Context) (*websocket.Conn, error) {
	if remaining := c.cooldownRemaining(); remaining > 0 {
		return nil, fmt.Errorf("%w: %s remaining", ErrCoolingDown, remaining)
	}

	var lastErr error
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		conn, _, err := c.dial(ctx, c.url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Warn("connection attempt failed",
			zap.Int("attempt", attempt+1), zap.Error(err))
		if attempt < c.maxAttempts-1 {
			c.sleep(c.backoff(attempt))
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrAttemptsExhausted, lastErr)
}

// HandleServerError feeds a server error frame back into the
// controller. A rate-limit rejection starts the cooldown window.
func (c *Controller) HandleServerError(message string) {
	if message != protocol.MsgTooManyConnections {
		return
	}
	c.mu.Lock()
	c.cooldownUntil = c.clock().Add(c.cooldown)
	c.mu.Unlock()
	c.logger.Warn("rate limited by server, cooling down",
		zap.Duration("cooldown", c.cooldown))
}

func (c *Controller) backoff(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return delay
}

func (c *Controller) cooldownRemaining() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.cooldownUntil.Sub(c.clock())
	if remaining < 0 {
		return 0
	}
	return remaining
}
