// Package reachability reports whether the host can reach the sync server.
package reachability

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/zeusync/replica/internal/core/observability/log"
)

var ErrNoChecker = errors.New("reachability: no address and no checker configured")

// Checker returns nil when the network is usable.
type Checker func(ctx context.Context) error

// DialChecker reports the network usable when a TCP connection to address can
// be opened within timeout.
func DialChecker(address string, timeout time.Duration) Checker {
	return func(ctx context.Context) error {
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", address)
		if err != nil {
			return err
		}
		return conn.Close()
	}
}

// Config holds the settings of a Monitor.
type Config struct {
	// Address dialed over TCP when Checker is nil, as host:port.
	Address  string
	Interval time.Duration
	Timeout  time.Duration
	Checker  Checker
}

func DefaultConfig() Config {
	return Config{
		Address:  "localhost:8080",
		Interval: 5 * time.Second,
		Timeout:  2 * time.Second,
	}
}

// Monitor checks periodically and notifies listeners on every online/offline
// transition. It assumes online until the first check says otherwise.
type Monitor struct {
	cfg     Config
	checker Checker
	logger  log.Log

	offline atomic.Bool

	mu        sync.RWMutex
	listeners map[string]func(bool)

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewMonitor(cfg Config, logger log.Log) (*Monitor, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	checker := cfg.Checker
	if checker == nil {
		if cfg.Address == "" {
			return nil, ErrNoChecker
		}
		if _, _, err := net.SplitHostPort(cfg.Address); err != nil {
			return nil, fmt.Errorf("reachability: invalid address %q: %w", cfg.Address, err)
		}
		checker = DialChecker(cfg.Address, cfg.Timeout)
	}
	if logger == nil {
		logger = log.Provide()
	}

	return &Monitor{
		cfg:       cfg,
		checker:   checker,
		logger:    logger.With(log.String("component", "reachability")),
		listeners: make(map[string]func(bool)),
		done:      make(chan struct{}),
	}, nil
}

// Start runs one check synchronously and then keeps checking every Interval
// until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.Check(ctx)
	go m.loop(ctx)
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

// Stop ends probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		if m.cancel == nil {
			return
		}
		m.cancel()
		<-m.done
	})
}

// Check runs the checker once and returns whether the network is online.
func (m *Monitor) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	err := m.checker(ctx)
	online := err == nil
	if err != nil {
		m.logger.Debug("reachability check failed", log.Error(err))
	}
	m.set(online)
	return online
}

func (m *Monitor) IsOffline() bool {
	return m.offline.Load()
}

// OnStatusChange registers cb; it is called with true when the network comes
// back and false when it goes away.
func (m *Monitor) OnStatusChange(cb func(online bool)) func() {
	return subscribe(&m.mu, m.listeners, cb)
}

func (m *Monitor) set(online bool) {
	if m.offline.Swap(!online) == !online {
		return
	}
	m.logger.Info("network status changed", log.Bool("online", online))
	notify(&m.mu, m.listeners, online, m.logger)
}

// Static is a Network whose status is set by hand.
type Static struct {
	offline   atomic.Bool
	mu        sync.RWMutex
	listeners map[string]func(bool)
}

func NewStatic(online bool) *Static {
	s := &Static{listeners: make(map[string]func(bool))}
	s.offline.Store(!online)
	return s
}

func (s *Static) IsOffline() bool {
	return s.offline.Load()
}

// Start and Stop are no-ops; they let a Static stand in for a Monitor.
func (s *Static) Start(context.Context) {}

func (s *Static) Stop() {}

func (s *Static) OnStatusChange(cb func(online bool)) func() {
	return subscribe(&s.mu, s.listeners, cb)
}

// SetOnline changes the status and notifies listeners when it differs.
func (s *Static) SetOnline(online bool) {
	if s.offline.Swap(!online) == !online {
		return
	}
	notify(&s.mu, s.listeners, online, log.Nop())
}

func subscribe(mu *sync.RWMutex, listeners map[string]func(bool), cb func(bool)) func() {
	id := uuid.NewString()
	mu.Lock()
	listeners[id] = cb
	mu.Unlock()

	return func() {
		mu.Lock()
		delete(listeners, id)
		mu.Unlock()
	}
}

func notify(mu *sync.RWMutex, listeners map[string]func(bool), online bool, logger log.Log) {
	mu.RLock()
	cbs := make([]func(bool), 0, len(listeners))
	for _, cb := range listeners {
		cbs = append(cbs, cb)
	}
	mu.RUnlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("status listener panic", log.Any("panic", r))
				}
			}()
			cb(online)
		}()
	}
}
