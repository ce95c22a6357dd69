// Package client bundles a replica store with its websocket transport,
// network monitor and journal behind a connect/close lifecycle.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol/websocket"
	"github.com/zeusync/replica/internal/core/replica"
	"github.com/zeusync/replica/internal/core/replica/types"
	"github.com/zeusync/replica/internal/core/storage/interfaces"
)

// Network is a replica.Network that runs its own probing loop.
type Network interface {
	replica.Network
	Start(ctx context.Context)
	Stop()
}

// Config holds configuration for the client
type Config struct {
	// SaveInterval is how often state is written to storage while connected.
	// Zero saves only on Close.
	SaveInterval time.Duration

	// SaveTimeout bounds the final save on Close.
	SaveTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		SaveInterval: 30 * time.Second,
		SaveTimeout:  5 * time.Second,
	}
}

// Stats combines store, transport and storage counters.
type Stats struct {
	Snapshot  replica.Snapshot
	Events    replica.EventMetrics
	Transport websocket.Stats
	Storage   interfaces.Statistics

	// Collections with at least one OnSync listener.
	Collections []string

	// ListenerFailures counts listener calls that returned an error or
	// panicked since the client was created.
	ListenerFailures uint64
}

// listenerWatch counts failed listener deliveries on the store's
// dispatchers.
type listenerWatch struct {
	failures atomic.Uint64
	logger   log.Log
}

func (w *listenerWatch) OnDelivered(topic string, _ int, failures int) {
	if failures == 0 {
		return
	}
	w.failures.Add(uint64(failures))
	w.logger.Warn("listener delivery failed",
		log.String("topic", topic),
		log.Int("failures", failures))
}

// Client represents a replica client
type Client struct {
	store     *replica.Store
	transport *websocket.Transport
	network   Network
	storage   interfaces.Storage

	config Config
	logger log.Log
	watch  *listenerWatch

	// Lifecycle
	connected   atomic.Bool
	closed      atomic.Bool
	cancel      context.CancelFunc
	group       *errgroup.Group
	unsubscribe func()

	// Serializes saves
	saveMu sync.Mutex
}

// New assembles a client. storage may be nil, in which case nothing is
// persisted.
func New(
	store *replica.Store,
	transport *websocket.Transport,
	network Network,
	storage interfaces.Storage,
	config Config,
	logger log.Log,
) *Client {
	if logger == nil {
		logger = log.Provide()
	}
	if config.SaveTimeout <= 0 {
		config.SaveTimeout = DefaultConfig().SaveTimeout
	}
	logger = logger.With(log.String("component", "client"))
	watch := &listenerWatch{logger: logger}
	store.AddEventObserver(watch)

	return &Client{
		store:     store,
		transport: transport,
		network:   network,
		storage:   storage,
		config:    config,
		logger:    logger,
		watch:     watch,
	}
}

// Store returns the underlying replica store.
func (c *Client) Store() *replica.Store {
	return c.store
}

// Connect restores journaled state, then starts the network monitor and the
// transport. ctx bounds the restore only. Connect returns before the first
// dial completes; queued mutations are flushed once the transport reports
// connected.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if !c.connected.CompareAndSwap(false, true) {
		return ErrAlreadyConnected
	}

	if err := c.restore(ctx); err != nil {
		c.connected.Store(false)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.unsubscribe = c.transport.OnMessage(replica.RemoteUpdateHandler(c.store))
	c.network.Start(runCtx)

	if err := c.transport.Start(runCtx); err != nil {
		cancel()
		c.network.Stop()
		c.unsubscribe()
		c.connected.Store(false)
		return err
	}

	group, groupCtx := errgroup.WithContext(runCtx)
	c.cancel = cancel
	c.group = group
	if c.storage != nil && c.config.SaveInterval > 0 {
		group.Go(func() error {
			c.saveLoop(groupCtx)
			return nil
		})
	}

	c.logger.Info("client connected", log.Int("pending", c.store.PendingCount()))
	return nil
}

// Close stops the transport and the monitor, destroys the store and writes a
// final snapshot to storage. It is safe to call more than once.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Info("closing client")

	var errs []error
	if c.cancel != nil {
		c.cancel()
		_ = c.group.Wait()
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	if err := c.transport.Close(); err != nil {
		errs = append(errs, err)
	}
	c.network.Stop()

	c.store.Destroy()
	c.store.Wait()

	if c.storage != nil {
		ctx, cancel := context.WithTimeout(context.Background(), c.config.SaveTimeout)
		if err := c.save(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
		if err := c.storage.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	c.logger.Info("client closed")
	return errors.Join(errs...)
}

// Track records a local mutation. See replica.Store.Track.
func (c *Client) Track(collection, id string, op types.Operation, data any) types.Key {
	return c.store.Track(collection, id, op, data)
}

// Sync drains the pending queue. See replica.Store.Sync.
func (c *Client) Sync(ctx context.Context) bool {
	return c.store.Sync(ctx)
}

// Save writes the current store state to storage.
func (c *Client) Save(ctx context.Context) error {
	if c.storage == nil {
		return ErrStorageDisabled
	}
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.save(ctx)
}

func (c *Client) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{
		Snapshot:         c.store.Snapshot(),
		Events:           c.store.EventMetrics(),
		Transport:        c.transport.Stats(),
		Collections:      c.store.WatchedCollections(),
		ListenerFailures: c.watch.failures.Load(),
	}
	if c.storage == nil {
		return stats, nil
	}
	var err error
	stats.Storage, err = c.storage.Statistics(ctx)
	return stats, err
}

func (c *Client) restore(ctx context.Context) error {
	if c.storage == nil {
		return nil
	}
	st, err := c.storage.Load(ctx)
	if err != nil {
		return err
	}
	c.store.ImportState(st)
	return nil
}

func (c *Client) save(ctx context.Context) error {
	c.saveMu.Lock()
	defer c.saveMu.Unlock()
	return c.storage.Save(ctx, c.store.ExportState())
}

func (c *Client) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(c.config.SaveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.save(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("periodic save failed", log.Error(err))
			}
		}
	}
}
