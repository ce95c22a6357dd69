package replica

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/replica/pending"
	"github.com/zeusync/replica/internal/core/replica/resolver"
)

// AckMode decides when a delivered mutation leaves the pending queue.
type AckMode uint8

const (
	// AckOnRemote keeps a mutation queued until a remote update with an equal
	// or higher version acknowledges it. Transport acceptance only resets the
	// retry count.
	AckOnRemote AckMode = iota
	// AckOnSend drops a mutation as soon as the transport accepts it.
	AckOnSend
)

func (m AckMode) String() string {
	if m == AckOnSend {
		return "send"
	}
	return "remote"
}

func ParseAckMode(s string) (AckMode, error) {
	switch s {
	case "", "remote":
		return AckOnRemote, nil
	case "send":
		return AckOnSend, nil
	default:
		return 0, fmt.Errorf("unknown ack mode %q", s)
	}
}

func (m AckMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

func (m *AckMode) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseAckMode(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Config tunes delivery and conflict handling.
type Config struct {
	MaxRetries       uint32
	RetryDelay       time.Duration
	ConflictStrategy resolver.Strategy
	SyncOnReconnect  bool
	BatchSize        int
	AckMode          AckMode
}

// DefaultConfig returns the defaults: 3 retries, 1s retry delay,
// last-write-wins, flush on reconnect, batches of 50, server acknowledgment.
//
// With AckOnRemote a pass that hands every item to the transport reports
// StatusSynced while those items stay queued until the server echoes them
// back through ApplyRemote. Synced and a non-zero PendingCount can therefore
// be observed together.
func DefaultConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryDelay:       time.Second,
		ConflictStrategy: resolver.LastWriteWins,
		SyncOnReconnect:  true,
		BatchSize:        pending.DefaultBatchSize,
		AckMode:          AckOnRemote,
	}
}

// Option configures a Store at construction.
type Option func(*Store)

// WithConfig replaces the default configuration. Zero MaxRetries, RetryDelay
// and BatchSize fall back to their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Store) {
		def := DefaultConfig()
		if cfg.MaxRetries == 0 {
			cfg.MaxRetries = def.MaxRetries
		}
		if cfg.RetryDelay <= 0 {
			cfg.RetryDelay = def.RetryDelay
		}
		if cfg.BatchSize <= 0 {
			cfg.BatchSize = def.BatchSize
		}
		s.cfg = cfg
	}
}

func WithLogger(logger log.Log) Option {
	return func(s *Store) { s.logger = logger }
}

// WithNetwork attaches a reachability observer.
func WithNetwork(network Network) Option {
	return func(s *Store) { s.network = network }
}

// WithClock overrides the wall clock used to stamp mutations.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// RemoteOption tunes a single ApplyRemote call.
type RemoteOption func(*remoteOptions)

type remoteOptions struct {
	updatedAt time.Time
}

// WithRemoteTimestamp sets the time the server accepted the change. It is
// what last-write-wins compares against the local write time. Without it the
// arrival time is used.
func WithRemoteTimestamp(t time.Time) RemoteOption {
	return func(o *remoteOptions) { o.updatedAt = t }
}
