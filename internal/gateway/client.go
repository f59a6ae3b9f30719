package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/signalix/chatserver/internal/hub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 16 * 1024
	defaultBufSize = 64
)

// inboundFrame is what a client sends; Data is decoded per event
type inboundFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Client is one authenticated websocket connection. It implements hub.Conn.
type Client struct {
	id       uuid.UUID
	userID   int64
	username string
	ws       *websocket.Conn
	send     chan hub.Event
	done     chan struct{}
	once     sync.Once
	log      *zap.SugaredLogger
}

func newClient(ws *websocket.Conn, userID int64, username string, bufSize int, log *zap.SugaredLogger) *Client {
	if bufSize <= 0 {
		bufSize = defaultBufSize
	}
	id := uuid.New()
	return &Client{
		id:       id,
		userID:   userID,
		username: username,
		ws:       ws,
		send:     make(chan hub.Event, bufSize),
		done:     make(chan struct{}),
		log:      log.With("conn_id", id, "user_id", userID),
	}
}

// ID identifies this handle; two connections of the same user never share it
func (c *Client) ID() uuid.UUID { return c.id }

// UserID returns the authenticated user
func (c *Client) UserID() int64 { return c.userID }

// Send queues ev for the write pump without blocking
func (c *Client) Send(ev hub.Event) error {
	select {
	case <-c.done:
		return hub.ErrConnClosed
	default:
	}
	select {
	case c.send <- ev:
		return nil
	case <-c.done:
		return hub.ErrConnClosed
	default:
		return hub.ErrSendBufferFull
	}
}

// Close stops both pumps. The write pump sends a normal-closure frame and then closes the
// socket, which unblocks the read pump. Safe to call more than once.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is shut down
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
		_ = c.ws.Close()
	}()

	for {
		select {
		case ev := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(ev); err != nil {
				c.log.Debugw("write failed", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump blocks until the peer goes away, handing each frame to handle
func (c *Client) readPump(handle func(inboundFrame)) {
	defer c.Close()

	c.ws.SetReadLimit(maxFrameSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debugw("read failed", "error", err)
			}
			return
		}
		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			_ = c.Send(hub.NewErrorEvent(CodeValidation, "malformed frame"))
			continue
		}
		handle(frame)
	}
}
