package devserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 16 << 20
)

// client is one websocket connection. room is guarded by the hub mutex.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	name string
	room string
}

func newClient(hub *Hub, conn *websocket.Conn, name string) *client {
	return &client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		name: name,
	}
}

// queue never blocks; it reports false when the client is not keeping up.
func (c *client) queue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *client) sendError(message string) {
	c.hub.mutex.Lock()
	defer c.hub.mutex.Unlock()
	c.sendErrorLocked(message)
}

// sendErrorLocked is sendError for callers already holding the hub mutex.
func (c *client) sendErrorLocked(message string) {
	if _, alive := c.hub.clients[c]; !alive {
		return
	}
	if payload, err := encode("error", errorBody{Message: message}); err == nil {
		c.queue(payload)
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.disconnect(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMsgSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		var frame envelope
		if err := json.Unmarshal(payload, &frame); err != nil {
			c.sendError("expected an event envelope")
			continue
		}
		c.dispatch(frame)
	}
}

func (c *client) dispatch(frame envelope) {
	switch frame.Event {
	case "join":
		var body joinBody
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			c.sendError("invalid join payload")
			return
		}
		c.hub.join(c, body)
	case "leave":
		c.hub.leave(c)
	case "message":
		var body inboundMessage
		if err := json.Unmarshal(frame.Data, &body); err != nil {
			c.sendError("invalid message payload")
			return
		}
		c.hub.message(c, body)
	case "ping":
	default:
		c.sendError("unknown event " + frame.Event)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
