package relay

import (
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/theautomat/crewsync/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. SDP blobs fit comfortably.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// Client is one websocket connection to the relay.
type Client struct {
	// ID is the relay-assigned peer ID other clients address signals to.
	ID string

	Hub *Hub

	Conn *websocket.Conn

	// RoomID is set by the hub once the client joined a room.
	RoomID string

	// Send is drained by WritePump. Only the hub writes to it and only the hub closes it.
	Send chan *protocol.Message
}

// NewClient wraps an upgraded connection.
func NewClient(hub *Hub, id string, conn *websocket.Conn) *Client {
	return &Client{
		ID:   id,
		Hub:  hub,
		Conn: conn,
		Send: make(chan *protocol.Message, sendBufferSize),
	}
}

// deliver queues msg without blocking the hub. A client that cannot keep up
// loses the message; signaling is fire-and-forget.
func (c *Client) deliver(msg *protocol.Message) {
	select {
	case c.Send <- msg:
	default:
		slog.Warn("relay send buffer full, dropping message", "peer", c.ID, "type", msg.Type)
	}
}

// ReadPump pumps messages from the websocket connection to the hub.
//
// The application runs ReadPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg protocol.Message
		if err := c.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("relay read error", "peer", c.ID, "err", err)
			}
			return
		}

		if !c.Hub.dispatch(&Envelope{Client: c, Message: &msg}) {
			return
		}
	}
}

// WritePump pumps messages from the hub to the websocket connection.
//
// A goroutine running WritePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteJSON(message); err != nil {
				slog.Debug("relay write error", "peer", c.ID, "err", err)
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
