// Package transport implements the multiplexed WebSocket connection to the
// rig server: topic-pattern routing (Router, in router.go), hybrid
// JSON/binary framing (envelope.go), and the reconnect-with-backoff ladder
// (this file).
package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	stdjson "encoding/json"

	"github.com/AllenNeuralDynamics/voxel-client/internal/backoff"
	"github.com/AllenNeuralDynamics/voxel-client/internal/reactive"
)

// ConnectionState mirrors the connection lifecycle surfaced via
// isConnected/statusMessage/onError.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateTerminallyFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminallyFailed:
		return "terminally_failed"
	default:
		return "unknown"
	}
}

// Config holds recognized transport options.
type Config struct {
	AutoReconnect           bool
	InitialReconnectDelayMs int
	MaxReconnectDelayMs     int
	MaxReconnectAttempts    int
}

// DefaultConfig matches stated defaults.
func DefaultConfig() Config {
	return Config{
		AutoReconnect:           true,
		InitialReconnectDelayMs: 1000,
		MaxReconnectDelayMs:     15000,
		MaxReconnectAttempts:    10,
	}
}

func (cfg Config) backoffConfig() backoff.Config {
	return backoff.Config{
		InitialDelay: time.Duration(cfg.InitialReconnectDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.MaxReconnectDelayMs) * time.Millisecond,
		MaxAttempts:  cfg.MaxReconnectAttempts,
	}
}

// Transport is the single WebSocket connection to the rig server. Callers
// register handlers via Subscribe before or after Connect; Dispatch order
// and at-most-once delivery are Router's contract.
type Transport struct {
	url    string
	cfg    Config
	dialer *websocket.Dialer
	log    zerolog.Logger

	router *Router
	ladder *backoff.Ladder

	mu            sync.Mutex
	conn          *websocket.Conn
	cancel        context.CancelFunc
	autoReconnect bool
	generation    uint64

	writeMu sync.Mutex

	isConnected     *reactive.Cell[bool]
	statusMessage   *reactive.Cell[string]
	connectionState *reactive.Cell[ConnectionState]

	errMu   sync.RWMutex
	onError ErrorFunc
}

// New creates a ready-to-connect Transport for the given ws:// or wss://
// URL. log should already carry component context.
func New(url string, cfg Config, log zerolog.Logger) *Transport {
	t := &Transport{
		url:             url,
		cfg:             cfg,
		dialer:          &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:             log,
		isConnected:     reactive.NewCell(false),
		statusMessage:   reactive.NewCell("disconnected"),
		connectionState: reactive.NewCell(StateDisconnected),
	}
	t.router = NewRouter(log, t.emitError)
	t.ladder = backoff.NewLadder(cfg.backoffConfig())
	return t
}

// IsConnected is the observable connection flag.
func (t *Transport) IsConnected() *reactive.Cell[bool] { return t.isConnected }

// StatusMessage is a human-readable observable status string.
func (t *Transport) StatusMessage() *reactive.Cell[string] { return t.statusMessage }

// ConnectionStateCell is the observable lifecycle state.
func (t *Transport) ConnectionStateCell() *reactive.Cell[ConnectionState] { return t.connectionState }

// OnConnectionChange subscribes to connectivity changes; it fires
// immediately with the current value (reactive.Cell semantics).
func (t *Transport) OnConnectionChange(fn func(bool)) (unsubscribe func()) {
	return t.isConnected.Subscribe(fn)
}

// OnError registers the single error callback. Replaces any previously registered one.
func (t *Transport) OnError(fn ErrorFunc) {
	t.errMu.Lock()
	t.onError = fn
	t.errMu.Unlock()
}

func (t *Transport) emitError(err error) {
	t.errMu.RLock()
	fn := t.onError
	t.errMu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

// Subscribe registers a handler for pattern.
func (t *Transport) Subscribe(pattern string, h Handler) (unsubscribe func()) {
	return t.router.Subscribe(pattern, h)
}

// Connect dials the server once, synchronously, and reports that attempt's
// result. If it fails and auto-reconnect is enabled, a background retry
// ladder takes over; if it succeeds, a background read
// loop starts and will itself trigger the same ladder on a later close.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("transport: already connected or connecting")
	}
	lctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.autoReconnect = t.cfg.AutoReconnect
	t.generation++
	gen := t.generation
	t.mu.Unlock()

	t.connectionState.Set(StateConnecting)
	t.statusMessage.Set("connecting")

	conn, err := t.dial(lctx)
	if err != nil {
		t.log.Warn().Err(err).Str("url", t.url).Msg("initial connect failed")
		if t.autoReconnectEnabled() {
			t.connectionState.Set(StateReconnecting)
			go t.reconnectLoop(lctx, gen)
		} else {
			t.markDisconnected("connect failed")
		}
		return err
	}

	t.onDialSuccess(conn)
	go t.runSession(lctx, gen, conn)
	return nil
}

// Disconnect closes the active connection and disables auto-reconnect for
// this session.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.autoReconnect = false
	t.generation++
	conn := t.conn
	t.conn = nil
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	t.markDisconnected("disconnected")
}

func (t *Transport) autoReconnectEnabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.autoReconnect
}

func (t *Transport) stale(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return gen != t.generation
}

func (t *Transport) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, t.url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", t.url, err)
	}
	return conn, nil
}

func (t *Transport) onDialSuccess(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	t.ladder.Reset()
	t.connectionState.Set(StateConnected)
	t.statusMessage.Set("connected")
	t.isConnected.Set(true)
}

func (t *Transport) markDisconnected(status string) {
	t.isConnected.Set(false)
	t.statusMessage.Set(status)
	if t.connectionState.Get() != StateTerminallyFailed {
		t.connectionState.Set(StateDisconnected)
	}
}

// reconnectLoop implements the backoff ladder: delay, dial, and on failure
// repeat until either a dial succeeds (runSession takes over) or the ladder
// is exhausted (terminal error surfaced through onError).
func (t *Transport) reconnectLoop(ctx context.Context, gen uint64) {
	for {
		delay, ok := t.ladder.Next()
		if !ok {
			t.log.Error().Str("url", t.url).Msg("reconnect attempts exhausted")
			t.connectionState.Set(StateTerminallyFailed)
			t.statusMessage.Set("connection failed permanently")
			t.emitError(fmt.Errorf("transport: exceeded max reconnect attempts"))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		if t.stale(gen) {
			return
		}

		conn, err := t.dial(ctx)
		if err != nil {
			t.log.Warn().Err(err).Int("attempt", t.ladder.Attempt()).Msg("reconnect attempt failed")
			continue
		}
		if t.stale(gen) {
			_ = conn.Close()
			return
		}

		t.onDialSuccess(conn)
		t.runSession(ctx, gen, conn)
		return
	}
}

// runSession blocks reading inbound messages until the connection closes,
// then — unless superseded by a newer generation or a disabled
// auto-reconnect — hands off to reconnectLoop.
func (t *Transport) runSession(ctx context.Context, gen uint64, conn *websocket.Conn) {
	t.readLoop(conn)

	if t.stale(gen) {
		return
	}
	t.markDisconnected("connection closed")

	if t.autoReconnectEnabled() {
		t.connectionState.Set(StateReconnecting)
		t.reconnectLoop(ctx, gen)
	}
}

// readLoop pumps inbound frames until the connection errors or closes.
// Every failure here is "transport transient": it logs and
// returns, leaving reconnection to the caller.
func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			t.log.Debug().Err(err).Msg("read loop exiting")
			return
		}

		switch msgType {
		case websocket.TextMessage:
			t.handleTextMessage(data)
		case websocket.BinaryMessage:
			t.handleBinaryMessage(data)
		}
	}
}

func (t *Transport) handleTextMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.log.Warn().Err(err).Msg("malformed text frame, dropping")
		return
	}
	t.router.Dispatch(Message{Topic: env.Topic, Payload: []byte(env.Payload)})
}

func (t *Transport) handleBinaryMessage(data []byte) {
	topic, frame, err := decodeBinaryFrame(data)
	if err != nil {
		t.log.Warn().Err(err).Msg("malformed binary frame, dropping")
		return
	}
	if frame == nil {
		// An unsupported format (uint16): drop it without marking the
		// channel broken.
		t.log.Warn().Str("topic", topic).Msg("dropping unsupported/empty binary frame")
		return
	}
	t.router.Dispatch(Message{Topic: topic, Frame: frame})
}

// Send marshals payload as JSON and writes it as a text frame — outbound
// messages are always JSON, even when the connection is
// otherwise carrying binary inbound frames.
func (t *Transport) Send(topic string, payload any) error {
	var raw stdjson.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", topic, err)
		}
		raw = b
	}

	msg, err := json.Marshal(envelope{Topic: topic, Payload: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope for %s: %w", topic, err)
	}

	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: not connected")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, msg)
}
