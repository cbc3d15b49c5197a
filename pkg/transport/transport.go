// Package transport maintains the framed, reconnecting socket connection to the editor host.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/morezero/editor-gateway/pkg/command"
	"github.com/morezero/editor-gateway/pkg/framing"
)

const logPrefix = "transport:transport"

// Dialer opens stream connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Option customizes a Transport.
type Option func(*Transport)

// WithDialer replaces the default TCP dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithErrorSink sets where connection failures are reported.
func WithErrorSink(s command.ErrorSink) Option {
	return func(t *Transport) { t.sink = s }
}

// WithClock replaces the heartbeat clock and the reconnect backoff sleep.
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(t *Transport) {
		if now != nil {
			t.now = now
		}
		if sleep != nil {
			t.sleep = sleep
		}
	}
}

// Stats is a snapshot of the connection state.
type Stats struct {
	Address           string    `json:"address"`
	Connected         bool      `json:"connected"`
	ReconnectAttempts int       `json:"reconnectAttempts"`
	LastHeartbeat     time.Time `json:"lastHeartbeat,omitempty"`
}

// Transport owns at most one live connection to the editor host. Socket I/O is serialized: one
// request/response exchange is in flight at a time.
type Transport struct {
	cfg    Config
	addr   string
	dialer Dialer
	sink   command.ErrorSink
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error

	// ioMu is held for the whole of a connect, reconnect or request/response exchange.
	ioMu sync.Mutex

	mu                sync.Mutex
	conn              net.Conn
	reconnectAttempts int
	lastHeartbeat     time.Time
}

type request struct {
	Action string                 `json:"action"`
	Params map[string]interface{} `json:"params"`
}

type heartbeat struct {
	Action string `json:"action"`
}

// New creates a Transport. It does not connect; the first SendCommand (or an explicit Connect) does.
func New(cfg Config, opts ...Option) *Transport {
	if cfg.MaxFrameBytes == 0 {
		cfg.MaxFrameBytes = framing.DefaultMaxFrameBytes
	}
	t := &Transport{
		cfg:    cfg,
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		dialer: &net.Dialer{},
		sink:   command.NopSink{},
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the socket. On success the reconnect counter is reset and the heartbeat clock
// restarted; on failure the counter is incremented and the failure reported.
func (t *Transport) Connect(ctx context.Context) error {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()
	return t.connectLocked(ctx)
}

// Disconnect closes the socket. It is idempotent and always clears the connection state.
func (t *Transport) Disconnect() {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()
	t.disconnectLocked()
}

// Close is Disconnect for use with defer and io.Closer.
func (t *Transport) Close() error {
	t.Disconnect()
	return nil
}

// Reconnect disconnects, waits ReconnectDelay*(attempts+1) and connects again. It refuses without
// dialing once MaxReconnectAttempts consecutive connects have failed.
func (t *Transport) Reconnect(ctx context.Context) bool {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()
	return t.reconnectLocked(ctx)
}

// Connected reports whether a socket is currently open.
func (t *Transport) Connected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn != nil
}

// Stats returns a snapshot of the connection state.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Address:           t.addr,
		Connected:         t.conn != nil,
		ReconnectAttempts: t.reconnectAttempts,
		LastHeartbeat:     t.lastHeartbeat,
	}
}

// SendCommand sends {action, params} and blocks for exactly one reply frame. The I/O deadline is
// the socket timeout, or the ctx deadline when that is sooner. A peer reset or abort triggers one
// reconnect and a single retry; every other failure is returned as a ConnectionError.
func (t *Transport) SendCommand(ctx context.Context, action string, params map[string]interface{}) (map[string]interface{}, error) {
	t.ioMu.Lock()
	defer t.ioMu.Unlock()
	if params == nil {
		params = map[string]interface{}{}
	}
	return t.sendLocked(ctx, action, params, true)
}

func (t *Transport) sendLocked(ctx context.Context, action string, params map[string]interface{}, allowRetry bool) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, command.WrapError(command.KindConnection, "command not sent", err)
	}
	if !t.Connected() {
		if err := t.connectLocked(ctx); err != nil {
			return nil, command.WrapError(command.KindConnection, "not connected to editor host", err)
		}
	}

	t.heartbeatLocked(ctx)

	data, err := t.exchange(ctx, request{Action: action, Params: params})
	if err != nil {
		t.sink.Report(string(command.KindConnection), err.Error(), map[string]interface{}{"action": action})
		slog.Error(fmt.Sprintf("%s - socket error when sending %s: %v", logPrefix, action, err))

		if allowRetry && isPeerReset(err) {
			slog.Info(fmt.Sprintf("%s - connection aborted or reset, attempting to reconnect", logPrefix))
			if t.reconnectLocked(ctx) {
				slog.Info(fmt.Sprintf("%s - reconnected, retrying %s", logPrefix, action))
				return t.sendLocked(ctx, action, params, false)
			}
		}
		// The stream position is unknown after a failed exchange.
		t.disconnectLocked()
		return nil, command.WrapError(command.KindConnection, "socket error when sending command", err)
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		preview := data
		if len(preview) > 100 {
			preview = preview[:100]
		}
		t.sink.Report(string(command.KindConnection), fmt.Sprintf("failed to parse response: %s...", preview),
			map[string]interface{}{"action": action})
		return nil, command.WrapError(command.KindConnection, "failed to parse response", err)
	}
	return command.WrapPayload(decoded), nil
}

// heartbeatLocked sends a heartbeat when the connection has been idle for HeartbeatInterval.
// A failed heartbeat never fails the caller, but the connection is replaced so a late heartbeat
// reply cannot be read as the next command's response.
func (t *Transport) heartbeatLocked(ctx context.Context) {
	if t.cfg.HeartbeatInterval <= 0 {
		return
	}
	now := t.now()
	t.mu.Lock()
	due := now.Sub(t.lastHeartbeat) >= t.cfg.HeartbeatInterval
	t.mu.Unlock()
	if !due {
		return
	}

	slog.Debug(fmt.Sprintf("%s - sending heartbeat", logPrefix))
	data, err := t.exchange(ctx, heartbeat{Action: "heartbeat"})
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - failed to send heartbeat: %v", logPrefix, err))
		t.disconnectLocked()
		if err := t.connectLocked(ctx); err != nil {
			slog.Warn(fmt.Sprintf("%s - reconnect after failed heartbeat: %v", logPrefix, err))
		}
		return
	}
	t.mu.Lock()
	t.lastHeartbeat = now
	t.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - heartbeat response: %s", logPrefix, data))
}

func (t *Transport) exchange(ctx context.Context, msg interface{}) ([]byte, error) {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil, errors.New("not connected")
	}

	deadline := time.Now().Add(t.cfg.SocketTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set deadline: %w", err)
	}

	if err := framing.WriteJSON(conn, msg); err != nil {
		return nil, fmt.Errorf("failed to send data: %w", err)
	}
	data, err := framing.ReadFrame(conn, t.cfg.MaxFrameBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to receive response: %w", err)
	}
	return data, nil
}

func (t *Transport) connectLocked(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, t.cfg.SocketTimeout)
	defer cancel()

	conn, err := t.dialer.DialContext(dialCtx, "tcp", t.addr)
	if err != nil {
		t.mu.Lock()
		attempts := t.reconnectAttempts
		t.conn = nil
		t.reconnectAttempts++
		t.mu.Unlock()

		t.sink.Report(string(command.KindConnection), err.Error(), map[string]interface{}{
			"host":               t.cfg.Host,
			"port":               t.cfg.Port,
			"reconnect_attempts": attempts,
		})
		slog.Error(fmt.Sprintf("%s - failed to connect to editor host at %s: %v", logPrefix, t.addr, err))
		return command.WrapError(command.KindConnection, "failed to connect to editor host", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.reconnectAttempts = 0
	t.lastHeartbeat = t.now()
	t.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - connected to editor host at %s", logPrefix, t.addr))
	return nil
}

func (t *Transport) disconnectLocked() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		t.sink.Report(string(command.KindConnection), err.Error(), map[string]interface{}{
			"host": t.cfg.Host,
			"port": t.cfg.Port,
		})
		slog.Warn(fmt.Sprintf("%s - error closing connection: %v", logPrefix, err))
	}
}

func (t *Transport) reconnectLocked(ctx context.Context) bool {
	t.mu.Lock()
	attempts := t.reconnectAttempts
	t.mu.Unlock()

	if attempts >= t.cfg.MaxReconnectAttempts {
		slog.Error(fmt.Sprintf("%s - maximum reconnection attempts reached (%d)", logPrefix, t.cfg.MaxReconnectAttempts))
		return false
	}
	slog.Info(fmt.Sprintf("%s - attempting to reconnect (attempt %d/%d)", logPrefix, attempts+1, t.cfg.MaxReconnectAttempts))

	t.disconnectLocked()
	if err := t.sleep(ctx, t.cfg.ReconnectBackoff(attempts)); err != nil {
		return false
	}
	return t.connectLocked(ctx) == nil
}

func isPeerReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNABORTED)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
