package network

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"tutorchat/config"
	"tutorchat/metrics"
)

var (
	// ErrNotConnected is returned by Send while the handle has no live socket.
	ErrNotConnected = errors.New("network: not connected")
	// ErrHandleClosed is returned by Send after the handle was closed.
	ErrHandleClosed = errors.New("network: connection handle closed")
	// ErrMissingTarget indicates Open was called without a conversation target.
	ErrMissingTarget = errors.New("network: target id is required")
)

// ConnectionState represents the lifecycle state of one conversation socket.
type ConnectionState string

const (
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateReconnecting ConnectionState = "RECONNECTING"
	StateDisconnected ConnectionState = "DISCONNECTED"
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// ManagerOptions controls ConnectionManager behavior.
type ManagerOptions struct {
	SocketBaseURL string
	Dialer        Dialer
	// ReadLimit caps one inbound frame. It must fit a base64 attachment.
	ReadLimit int64

	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration

	ReconnectInitial time.Duration
	ReconnectMax     time.Duration
	// ReconnectBudget bounds the total time spent retrying one drop.
	// Zero disables reconnecting.
	ReconnectBudget time.Duration

	OnEvent func(*Handle, InboundEvent)
	OnState func(*Handle, ConnectionState)
	Logger  logrus.FieldLogger
}

func (o ManagerOptions) withDefaults() ManagerOptions {
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: DefaultDialTimeout,
		}
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = ReadLimitFor(config.DefaultMaxAttachmentBytes)
	}
	if o.WriteWait <= 0 {
		o.WriteWait = DefaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = DefaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	if o.ReconnectInitial <= 0 {
		o.ReconnectInitial = time.Duration(config.DefaultReconnectInitialMillis) * time.Millisecond
	}
	if o.ReconnectMax < o.ReconnectInitial {
		o.ReconnectMax = max(time.Duration(config.DefaultReconnectMaxMillis)*time.Millisecond, o.ReconnectInitial)
	}
	if o.ReconnectBudget < 0 {
		o.ReconnectBudget = 0
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	return o
}

// ReadLimitFor returns a frame limit that fits a base64 attachment of
// maxAttachment bytes plus its JSON envelope.
func ReadLimitFor(maxAttachment int64) int64 {
	return (maxAttachment+2)/3*4 + 64*1024
}

// SocketURL builds <base>/ws/chat/<target>/?token=<token>. http(s) bases are
// mapped to ws(s).
func SocketURL(base, targetID, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", fmt.Errorf("parse socket base: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("parse socket base: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", errors.New("parse socket base: missing host")
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat/" + url.PathEscape(targetID) + "/"
	u.RawPath = ""
	query := url.Values{}
	query.Set("token", token)
	u.RawQuery = query.Encode()
	u.Fragment = ""
	return u.String(), nil
}

// ConnectionManager owns at most one live conversation socket.
type ConnectionManager struct {
	opts ManagerOptions

	mu      sync.Mutex
	current *Handle
}

// NewConnectionManager constructs a manager.
func NewConnectionManager(opts ManagerOptions) *ConnectionManager {
	return &ConnectionManager{opts: opts.withDefaults()}
}

// Open closes any existing handle and starts connecting to targetID. It
// returns immediately; progress is reported through OnState.
func (m *ConnectionManager) Open(ctx context.Context, targetID, token string) (*Handle, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, ErrMissingTarget
	}
	socketURL, err := SocketURL(m.opts.SocketBaseURL, targetID, token)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	h := &Handle{
		TargetID:  targetID,
		manager:   m,
		socketURL: socketURL,
		state:     StateConnecting,
		cancel:    cancel,
		closed:    make(chan struct{}),
		done:      make(chan struct{}),
		logger:    m.opts.Logger.WithField("target", targetID),
	}

	m.mu.Lock()
	previous := m.current
	m.current = h
	m.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}

	go h.run(runCtx)
	return h, nil
}

// Close closes h. Closing a stale or nil handle is a no-op.
func (m *ConnectionManager) Close(h *Handle) error {
	if h == nil {
		return nil
	}
	m.mu.Lock()
	if m.current == h {
		m.current = nil
	}
	m.mu.Unlock()
	return h.Close()
}

// Send transmits one outbound message on h.
func (m *ConnectionManager) Send(h *Handle, message any) error {
	if h == nil {
		return ErrNotConnected
	}
	return h.Send(message)
}

// Current returns the open handle, if any.
func (m *ConnectionManager) Current() *Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Shutdown closes the current handle and waits for its goroutines to exit.
func (m *ConnectionManager) Shutdown() {
	h := m.Current()
	if h == nil {
		return
	}
	_ = m.Close(h)
	<-h.Done()
}

// Handle is one conversation's socket, including its reconnect loop.
type Handle struct {
	TargetID string

	manager   *ConnectionManager
	socketURL string
	logger    logrus.FieldLogger

	mu    sync.Mutex
	conn  *websocket.Conn
	state ConnectionState

	writeMu sync.Mutex

	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

// State returns the current connection state.
func (h *Handle) State() ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed once the handle has stopped for good.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Send marshals message and writes it as one text frame.
func (h *Handle) Send(message any) error {
	payload, err := EncodeJSON(message)
	if err != nil {
		return err
	}

	select {
	case <-h.closed:
		return ErrHandleClosed
	default:
	}

	h.mu.Lock()
	conn := h.conn
	state := h.state
	h.mu.Unlock()
	if conn == nil || state != StateConnected {
		return ErrNotConnected
	}

	if err := h.write(conn, websocket.TextMessage, payload); err != nil {
		// The reader notices the closed socket and starts reconnecting.
		_ = conn.Close()
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return nil
}

// Close stops the handle. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		close(h.closed)
		h.cancel()

		h.mu.Lock()
		conn := h.conn
		h.mu.Unlock()
		if conn != nil {
			_ = h.write(conn, websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			_ = conn.Close()
		}
	})
	return nil
}

func (h *Handle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

func (h *Handle) run(ctx context.Context) {
	defer close(h.done)
	defer h.setState(StateDisconnected)

	h.notifyState(StateConnecting)

	opts := h.manager.opts
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = opts.ReconnectInitial
	policy.MaxInterval = opts.ReconnectMax
	policy.MaxElapsedTime = opts.ReconnectBudget
	policy.Reset()

	for {
		conn, err := h.dial(ctx)
		if err == nil {
			h.serve(conn)
			if h.isClosed() || ctx.Err() != nil {
				return
			}
			// The budget applies per drop, not per connection lifetime.
			policy.Reset()
		} else {
			if h.isClosed() || ctx.Err() != nil {
				return
			}
			var permanent *permanentError
			if errors.As(err, &permanent) {
				h.logger.WithError(err).Warn("chat socket rejected")
				return
			}
			h.logger.WithError(err).Warn("chat socket dial failed")
		}

		if opts.ReconnectBudget <= 0 {
			return
		}
		wait := policy.NextBackOff()
		if wait == backoff.Stop {
			h.logger.WithField("budget", opts.ReconnectBudget).Warn("chat socket reconnect budget exhausted")
			return
		}

		h.setState(StateReconnecting)
		metrics.RecordReconnectAttempt()
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-h.closed:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

type permanentError struct {
	status int
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("handshake rejected with status %d", e.status)
}

func (h *Handle) dial(ctx context.Context) (*websocket.Conn, error) {
	opts := h.manager.opts
	dialCtx, cancel := context.WithTimeout(ctx, DefaultDialTimeout)
	defer cancel()

	conn, resp, err := opts.Dialer.DialContext(dialCtx, h.socketURL, nil)
	if err != nil {
		if resp != nil {
			switch resp.StatusCode {
			case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
				return nil, &permanentError{status: resp.StatusCode}
			}
		}
		return nil, fmt.Errorf("dial chat socket: %w", err)
	}

	h.mu.Lock()
	if h.isClosed() {
		h.mu.Unlock()
		_ = conn.Close()
		return nil, ErrHandleClosed
	}
	h.conn = conn
	h.mu.Unlock()
	return conn, nil
}

// serve pumps inbound frames until the socket drops or the handle closes.
func (h *Handle) serve(conn *websocket.Conn) {
	opts := h.manager.opts
	h.setState(StateConnected)
	h.logger.Info("chat socket connected")

	conn.SetReadLimit(opts.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(opts.PongWait))
	})

	stopPing := make(chan struct{})
	var pingWG sync.WaitGroup
	pingWG.Add(1)
	go func() {
		defer pingWG.Done()
		h.keepAlive(conn, stopPing)
	}()

	var readErr error
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(opts.PongWait))

		event, err := DecodeInbound(payload)
		if err != nil {
			h.logger.WithError(err).Debug("dropping inbound frame")
			continue
		}
		if opts.OnEvent != nil {
			opts.OnEvent(h, event)
		}
	}

	close(stopPing)
	pingWG.Wait()
	_ = conn.Close()

	h.mu.Lock()
	h.conn = nil
	h.mu.Unlock()

	fields := logrus.Fields{"closed_locally": h.isClosed()}
	if readErr != nil && !websocket.IsCloseError(readErr, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.logger.WithFields(fields).WithError(readErr).Info("chat socket disconnected")
		return
	}
	h.logger.WithFields(fields).Info("chat socket disconnected")
}

func (h *Handle) keepAlive(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(h.manager.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := h.write(conn, websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		case <-stop:
			return
		}
	}
}

func (h *Handle) write(conn *websocket.Conn, messageType int, payload []byte) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(h.manager.opts.WriteWait))
	return conn.WriteMessage(messageType, payload)
}

func (h *Handle) setState(state ConnectionState) {
	h.mu.Lock()
	if h.state == state {
		h.mu.Unlock()
		return
	}
	h.state = state
	h.mu.Unlock()

	h.notifyState(state)
}

func (h *Handle) notifyState(state ConnectionState) {
	metrics.RecordConnectionState(string(state))
	if cb := h.manager.opts.OnState; cb != nil {
		cb(h, state)
	}
}
