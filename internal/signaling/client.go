package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	pion "github.com/pion/webrtc/v4"

	"github.com/theautomat/crewsync/internal/dns"
	"github.com/theautomat/crewsync/internal/protocol"
	"github.com/theautomat/crewsync/internal/syncerr"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	bufferSize = 64
)

// Defaults for Options fields left at zero.
const (
	DefaultConnectTimeout    = 15 * time.Second
	DefaultReconnectAttempts = 5
	DefaultReconnectDelay    = 1 * time.Second
)

var errStopped = errors.New("signaling client stopped")

// Options bound how long the client tries to reach the relay.
type Options struct {
	// ConnectTimeout bounds a single dial including the websocket handshake.
	ConnectTimeout time.Duration

	// ReconnectAttempts is the number of dials per connect or reconnect cycle.
	ReconnectAttempts int

	// ReconnectDelay is the pause between two dials of the same cycle.
	ReconnectDelay time.Duration

	// Clock drives the reconnect delay. Defaults to the real clock.
	Clock clockwork.Clock
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.ReconnectAttempts <= 0 {
		o.ReconnectAttempts = DefaultReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.Clock == nil {
		o.Clock = clockwork.NewRealClock()
	}
	return o
}

// TransportState describes the health of the relay connection.
type TransportState int

const (
	StateConnected TransportState = iota
	StateConnectionError
	StateDisconnected
)

func (s TransportState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateConnectionError:
		return "connection-error"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Status is a transport-level event published by the Client.
type Status struct {
	State TransportState
	Err   error

	// Attempt is the failed dial number for StateConnectionError.
	Attempt int

	// Terminal is set on the final StateDisconnected once reconnection is exhausted.
	Terminal bool
}

// Client manages the websocket connection to the relay. After Connect it
// supervises the connection and redials on transport loss.
type Client struct {
	serverURL string
	opts      Options
	dialer    *websocket.Dialer

	incoming chan *protocol.Message
	outgoing chan *protocol.Message
	status   chan Status
	done     chan struct{}

	mu       sync.Mutex
	running  bool
	finished bool

	closeOnce sync.Once
}

// NewClient creates a new signaling client for serverURL (ws:// or wss://).
func NewClient(serverURL string, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		serverURL: serverURL,
		opts:      opts,
		dialer: &websocket.Dialer{
			NetDialContext:   dns.DialContext,
			HandshakeTimeout: opts.ConnectTimeout,
		},
		incoming: make(chan *protocol.Message, bufferSize),
		outgoing: make(chan *protocol.Message, bufferSize),
		status:   make(chan Status, bufferSize),
		done:     make(chan struct{}),
	}
}

// Connect dials the relay with bounded retries. A failure wraps
// syncerr.ErrSignalingUnavailable and is not fatal to the caller.
func (c *Client) Connect(ctx context.Context) error {
	if _, err := url.Parse(c.serverURL); err != nil {
		return syncerr.Wrap("connect signaling", syncerr.ErrSignalingUnavailable, fmt.Sprintf("invalid server URL: %v", err))
	}

	conn, err := c.dialWithRetry(ctx)
	if err != nil {
		return syncerr.Wrap("connect signaling", syncerr.ErrSignalingUnavailable, err.Error())
	}

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		conn.Close()
		return syncerr.New("connect signaling", syncerr.ErrClosed)
	default:
	}
	c.running = true
	c.mu.Unlock()

	c.emit(Status{State: StateConnected})
	go c.supervise(conn)
	return nil
}

// Incoming returns the channel of relay messages. It is closed when the client stops.
func (c *Client) Incoming() <-chan *protocol.Message {
	return c.incoming
}

// Status returns the channel of transport events. It is closed when the client stops.
func (c *Client) Status() <-chan Status {
	return c.status
}

// Send queues msg for the relay without blocking. Messages queued while the
// transport is down are written after a successful reconnect.
func (c *Client) Send(msg *protocol.Message) error {
	select {
	case <-c.done:
		return syncerr.New("send "+msg.Type, syncerr.ErrClosed)
	default:
	}

	select {
	case c.outgoing <- msg:
		return nil
	default:
		slog.Warn("signaling send buffer full, dropping message", "type", msg.Type)
		return syncerr.Wrap("send "+msg.Type, syncerr.ErrSignalingUnavailable, "send buffer full")
	}
}

// SendOffer relays an SDP offer to targetPeerID.
func (c *Client) SendOffer(targetPeerID string, offer pion.SessionDescription) error {
	raw, err := json.Marshal(offer)
	if err != nil {
		return syncerr.NewPeerError("encode offer", targetPeerID, err)
	}
	return c.sendPayload(protocol.TypeOffer, protocol.OfferPayload{TargetID: targetPeerID, Offer: raw})
}

// SendAnswer relays an SDP answer to targetPeerID.
func (c *Client) SendAnswer(targetPeerID string, answer pion.SessionDescription) error {
	raw, err := json.Marshal(answer)
	if err != nil {
		return syncerr.NewPeerError("encode answer", targetPeerID, err)
	}
	return c.sendPayload(protocol.TypeAnswer, protocol.AnswerPayload{TargetID: targetPeerID, Answer: raw})
}

// SendICECandidate relays one trickled candidate to targetPeerID.
func (c *Client) SendICECandidate(targetPeerID string, candidate pion.ICECandidateInit) error {
	raw, err := json.Marshal(candidate)
	if err != nil {
		return syncerr.NewPeerError("encode candidate", targetPeerID, err)
	}
	return c.sendPayload(protocol.TypeICECandidate, protocol.ICECandidatePayload{TargetID: targetPeerID, Candidate: raw})
}

func (c *Client) sendPayload(msgType string, payload any) error {
	msg, err := protocol.New(msgType, payload)
	if err != nil {
		return err
	}
	return c.Send(msg)
}

// Close stops the client and closes the websocket connection. It is safe to
// call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		running := c.running
		c.mu.Unlock()

		// Without a supervisor nobody else closes the output channels.
		if !running {
			c.finish()
		}
	})
	return nil
}

func (c *Client) dialWithRetry(ctx context.Context) (*websocket.Conn, error) {
	var lastErr error
	for attempt := 1; attempt <= c.opts.ReconnectAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-c.opts.Clock.After(c.opts.ReconnectDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-c.done:
				return nil, errStopped
			}
		}

		dialCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
		conn, _, err := c.dialer.DialContext(dialCtx, c.serverURL, nil)
		cancel()
		if err == nil {
			conn.SetReadLimit(maxMessageSize)
			return conn, nil
		}

		lastErr = err
		slog.Warn("signaling connect attempt failed", "attempt", attempt, "max", c.opts.ReconnectAttempts, "url", c.serverURL, "err", err)
		c.emit(Status{State: StateConnectionError, Err: err, Attempt: attempt})
	}
	return nil, fmt.Errorf("gave up after %d attempts: %w", c.opts.ReconnectAttempts, lastErr)
}

// supervise owns the connection lifecycle until Close or until a reconnect
// cycle fails.
func (c *Client) supervise(conn *websocket.Conn) {
	defer c.finish()

	for {
		err := c.run(conn)
		if errors.Is(err, errStopped) {
			return
		}

		slog.Warn("signaling connection lost, reconnecting", "url", c.serverURL, "err", err)
		c.emit(Status{State: StateDisconnected, Err: err})

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-c.done:
				cancel()
			case <-ctx.Done():
			}
		}()
		conn, err = c.dialWithRetry(ctx)
		cancel()
		if err != nil {
			if errors.Is(err, errStopped) || errors.Is(err, context.Canceled) {
				return
			}
			slog.Error("signaling reconnect exhausted", "url", c.serverURL, "err", err)
			c.emit(Status{State: StateDisconnected, Err: syncerr.Wrap("reconnect signaling", syncerr.ErrSignalingUnavailable, err.Error()), Terminal: true})
			return
		}

		slog.Info("signaling reconnected", "url", c.serverURL)
		c.emit(Status{State: StateConnected})
	}
}

// run pumps one connection and returns once it is unusable.
func (c *Client) run(conn *websocket.Conn) error {
	stop := make(chan struct{})
	readErr := make(chan error, 1)
	go func() {
		readErr <- c.readPump(conn, stop)
	}()

	readFinished, err := c.writePump(conn, readErr)
	close(stop)
	conn.Close()
	if !readFinished {
		<-readErr
	}
	return err
}

// readPump reads messages from the websocket connection.
func (c *Client) readPump(conn *websocket.Conn, stop <-chan struct{}) error {
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}

		select {
		case c.incoming <- &msg:
		case <-stop:
			return errStopped
		case <-c.done:
			return errStopped
		}
	}
}

// writePump writes queued messages and sends periodic pings. The boolean
// reports whether the read pump's result was already consumed.
func (c *Client) writePump(conn *websocket.Conn, readErr <-chan error) (bool, error) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.outgoing:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				return false, err
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return false, err
			}

		case err := <-readErr:
			return true, err

		case <-c.done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return false, errStopped
		}
	}
}

func (c *Client) emit(s Status) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	select {
	case c.status <- s:
	default:
		slog.Warn("signaling status dropped", "state", s.State)
	}
}

func (c *Client) finish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	close(c.incoming)
	close(c.status)
}
