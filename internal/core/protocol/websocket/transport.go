// Package websocket implements the sync transport over a gorilla/websocket
// client connection that reconnects with exponential backoff.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/replica/internal/core/observability/log"
	"github.com/zeusync/replica/internal/core/protocol"
)

// MessageHandler receives every decoded inbound envelope.
type MessageHandler func(*protocol.Envelope)

// Stats are cumulative transport counters.
type Stats struct {
	MessagesSent     uint64
	MessagesReceived uint64
	BytesSent        uint64
	BytesReceived    uint64
	Reconnects       uint64
}

// Transport keeps one websocket connection to the sync server alive. It is
// safe for concurrent use.
type Transport struct {
	cfg    Config
	logger log.Log
	codec  protocol.JSONCodec
	dialer *websocket.Dialer
	now    func() time.Time

	mu              sync.RWMutex
	conn            *websocket.Conn
	state           protocol.ConnectionState
	stateHandlers   map[string]func(protocol.ConnectionState)
	messageHandlers map[string]MessageHandler

	// Write mutex; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	started atomic.Bool
	closed  atomic.Bool
	cancel  context.CancelFunc
	group   *errgroup.Group

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	bytesSent        atomic.Uint64
	bytesReceived    atomic.Uint64
	reconnects       atomic.Uint64
}

// New validates cfg and builds an idle transport. Call Start to connect.
func New(cfg Config, logger log.Log) (*Transport, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidConfig)
	}
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidConfig, u.Scheme)
	}
	if logger == nil {
		logger = log.Provide()
	}

	return &Transport{
		cfg:    cfg,
		logger: logger.With(log.String("component", "websocket"), log.String("url", cfg.URL)),
		codec:  protocol.JSONCodec{MaxMessageSize: cfg.MaxMessageSize},
		dialer: &websocket.Dialer{
			HandshakeTimeout:  cfg.HandshakeTimeout,
			EnableCompression: cfg.EnableCompression,
		},
		now:             time.Now,
		state:           protocol.StateDisconnected,
		stateHandlers:   make(map[string]func(protocol.ConnectionState)),
		messageHandlers: make(map[string]MessageHandler),
	}, nil
}

// Start launches the connection supervisor. It returns right away; the
// transport reports StateConnected once the first dial succeeds.
func (t *Transport) Start(ctx context.Context) error {
	if t.closed.Load() {
		return protocol.ErrClosed
	}
	if !t.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	ctx, cancel := context.WithCancel(ctx)
	group, ctx := errgroup.WithContext(ctx)
	t.cancel = cancel
	t.group = group

	group.Go(func() error {
		return t.supervise(ctx)
	})
	return nil
}

// Wait blocks until the supervisor exits. It returns ErrReconnectFailed when
// MaxReconnectAttempts was exhausted.
func (t *Transport) Wait() error {
	if t.group == nil {
		return nil
	}
	return t.group.Wait()
}

// Close stops reconnecting, closes the connection and waits for the
// supervisor to exit.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Info("closing transport")

	if t.cancel != nil {
		t.cancel()
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn != nil {
		t.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client closed")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		t.writeMu.Unlock()
		_ = conn.Close()
	}

	err := t.Wait()
	t.setState(protocol.StateDisconnected)
	if errors.Is(err, ErrReconnectFailed) {
		return nil
	}
	return err
}

func (t *Transport) IsConnected() bool {
	return t.State() == protocol.StateConnected
}

func (t *Transport) State() protocol.ConnectionState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// OnStateChange registers cb for link transitions.
func (t *Transport) OnStateChange(cb func(protocol.ConnectionState)) func() {
	id := uuid.NewString()
	t.mu.Lock()
	t.stateHandlers[id] = cb
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.stateHandlers, id)
		t.mu.Unlock()
	}
}

// OnMessage registers h for inbound envelopes. Handlers run on the read
// goroutine and should not block.
func (t *Transport) OnMessage(h MessageHandler) func() {
	id := uuid.NewString()
	t.mu.Lock()
	t.messageHandlers[id] = h
	t.mu.Unlock()

	return func() {
		t.mu.Lock()
		delete(t.messageHandlers, id)
		t.mu.Unlock()
	}
}

// Send wraps payload into an envelope and writes it as a text frame. A nil
// error means the frame was written to the socket, not that the server
// processed it.
func (t *Transport) Send(msgType protocol.MessageType, payload any) error {
	if t.closed.Load() {
		return protocol.ErrClosed
	}

	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()
	if conn == nil {
		return protocol.ErrNotConnected
	}

	env, err := protocol.NewEnvelope(msgType, payload, t.now())
	if err != nil {
		return err
	}
	data, err := t.codec.Encode(env)
	if err != nil {
		return err
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.cfg.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	}
	if err = conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", protocol.ErrSendRejected, err)
	}

	t.messagesSent.Add(1)
	t.bytesSent.Add(uint64(len(data)))
	return nil
}

func (t *Transport) Stats() Stats {
	return Stats{
		MessagesSent:     t.messagesSent.Load(),
		MessagesReceived: t.messagesReceived.Load(),
		BytesSent:        t.bytesSent.Load(),
		BytesReceived:    t.bytesReceived.Load(),
		Reconnects:       t.reconnects.Load(),
	}
}

// supervise dials, serves the connection until it drops and dials again.
func (t *Transport) supervise(ctx context.Context) error {
	failures := 0
	for {
		conn, err := t.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			failures++
			t.logger.Warn("dial failed", log.Int("attempt", failures), log.Error(err))

			if t.cfg.MaxReconnectAttempts > 0 && failures >= t.cfg.MaxReconnectAttempts {
				t.setState(protocol.StateDisconnected)
				return fmt.Errorf("%w after %d attempts: %v", ErrReconnectFailed, failures, err)
			}
			if !sleep(ctx, t.cfg.backoff(failures)) {
				return nil
			}
			continue
		}

		failures = 0
		t.attach(conn)
		err = t.serve(ctx, conn)
		t.detach(conn)

		if ctx.Err() != nil || t.closed.Load() {
			return nil
		}
		t.reconnects.Add(1)
		t.logger.Warn("connection lost, reconnecting", log.Error(err))
		t.setState(protocol.StateReconnecting)
	}
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, t.cfg.Header)
	if err != nil {
		return nil, err
	}
	if t.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(int64(t.cfg.MaxMessageSize))
	}
	return conn, nil
}

func (t *Transport) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.logger.Info("connected", log.String("remote_addr", conn.RemoteAddr().String()))
	t.setState(protocol.StateConnected)
}

func (t *Transport) detach(conn *websocket.Conn) {
	t.mu.Lock()
	if t.conn == conn {
		t.conn = nil
	}
	t.mu.Unlock()
	_ = conn.Close()
}

// serve runs the read loop and the pinger of one connection. It returns when
// either fails or ctx is done.
func (t *Transport) serve(ctx context.Context, conn *websocket.Conn) error {
	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return t.readLoop(conn)
	})
	if t.cfg.PingInterval > 0 {
		group.Go(func() error {
			return t.pingLoop(gctx, conn)
		})
	}
	group.Go(func() error {
		<-gctx.Done()
		_ = conn.Close()
		return nil
	})

	return group.Wait()
}

func (t *Transport) readLoop(conn *websocket.Conn) error {
	if t.cfg.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		})
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if t.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(t.cfg.ReadTimeout))
		}
		if kind != websocket.TextMessage {
			t.logger.Debug("ignoring non-text frame", log.Int("kind", kind))
			continue
		}

		t.messagesReceived.Add(1)
		t.bytesReceived.Add(uint64(len(data)))

		env, err := t.codec.Decode(data)
		if err != nil {
			t.logger.Warn("dropping malformed frame", log.Error(err))
			continue
		}
		t.deliver(env)
	}
}

func (t *Transport) pingLoop(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.controlTimeout()))
			t.writeMu.Unlock()
			if err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (t *Transport) deliver(env *protocol.Envelope) {
	t.mu.RLock()
	handlers := make([]MessageHandler, 0, len(t.messageHandlers))
	for _, h := range t.messageHandlers {
		handlers = append(handlers, h)
	}
	t.mu.RUnlock()

	for _, h := range handlers {
		t.invoke(h, env)
	}
}

func (t *Transport) invoke(h MessageHandler, env *protocol.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("message handler panic", log.String("type", env.Type.String()), log.Any("panic", r))
		}
	}()
	h(env)
}

func (t *Transport) setState(state protocol.ConnectionState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	previous := t.state
	t.state = state
	handlers := make([]func(protocol.ConnectionState), 0, len(t.stateHandlers))
	for _, h := range t.stateHandlers {
		handlers = append(handlers, h)
	}
	t.mu.Unlock()

	t.logger.Debug("state changed",
		log.String("from", previous.String()),
		log.String("to", state.String()))
	for _, h := range handlers {
		h(state)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
