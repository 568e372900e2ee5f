package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no ping)")
	ErrAlreadyClosed   = errors.New("already closed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL          string        // WebSocket URL
	PingTimeout  time.Duration // Max time without ping before considering connection stale
	WriteTimeout time.Duration // Write deadline for sends
	BufferSize   int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		PingTimeout:  60 * time.Second,
		WriteTimeout: 5 * time.Second,
		BufferSize:   100000,
	}
}

// FeedConfig configures one venue feed supervisor.
type FeedConfig struct {
	Exchange           string        // "binance" or "bybit"
	URL                string        // WebSocket URL
	Symbols            []string      // Symbols to subscribe
	BybitDepth         int           // Levels in the bybit orderbook topic (default 50)
	ReconnectBaseDelay time.Duration // Base wait time for reconnection
	ReconnectMaxDelay  time.Duration // Max wait time for reconnection
	PingTimeout        time.Duration // Passed through to the client
	WriteTimeout       time.Duration
	BufferSize         int
}

func (c *FeedConfig) applyDefaults() {
	def := DefaultClientConfig()
	if c.BybitDepth == 0 {
		c.BybitDepth = 50
	}
	if c.ReconnectBaseDelay == 0 {
		c.ReconnectBaseDelay = time.Second
	}
	if c.ReconnectMaxDelay == 0 {
		c.ReconnectMaxDelay = 60 * time.Second
	}
	if c.PingTimeout == 0 {
		c.PingTimeout = def.PingTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.BufferSize == 0 {
		c.BufferSize = def.BufferSize
	}
}
