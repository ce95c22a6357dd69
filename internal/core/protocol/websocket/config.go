package websocket

import (
	"net/http"
	"time"
)

// Config holds the settings of a Transport.
type Config struct {
	// URL of the sync endpoint, e.g. ws://localhost:8080/sync.
	URL    string
	Header http.Header

	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// ReadTimeout is refreshed by every frame and pong. Zero disables it.
	ReadTimeout  time.Duration
	PingInterval time.Duration

	// ReconnectInterval is the first backoff step; it doubles up to
	// MaxReconnectInterval. MaxReconnectAttempts of 0 retries forever.
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	MaxReconnectAttempts int

	MaxMessageSize    int
	EnableCompression bool
}

func DefaultConfig() Config {
	return Config{
		URL:                  "ws://localhost:8080/sync",
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
		ReadTimeout:          60 * time.Second,
		PingInterval:         30 * time.Second,
		ReconnectInterval:    time.Second,
		MaxReconnectInterval: 30 * time.Second,
		MaxReconnectAttempts: 0,
		MaxMessageSize:       1024 * 1024, // 1MB
		EnableCompression:    false,
	}
}

// controlTimeout bounds control frame writes. A zero WriteTimeout falls back
// to the default one.
func (c Config) controlTimeout() time.Duration {
	if c.WriteTimeout > 0 {
		return c.WriteTimeout
	}
	return DefaultConfig().WriteTimeout
}

// backoff returns the wait before reconnect attempt n (1-based).
func (c Config) backoff(n int) time.Duration {
	d := c.ReconnectInterval
	if d <= 0 {
		d = time.Second
	}
	for i := 1; i < n; i++ {
		d *= 2
		if c.MaxReconnectInterval > 0 && d >= c.MaxReconnectInterval {
			return c.MaxReconnectInterval
		}
	}
	if c.MaxReconnectInterval > 0 && d > c.MaxReconnectInterval {
		return c.MaxReconnectInterval
	}
	return d
}
