package internal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Conn is the persistent, event-tagged connection the coordinator talks over.
// Emit never blocks; Events is closed when the connection ends, after which
// Err reports why.
type Conn interface {
	Emit(event string, payload any) error
	Events() <-chan Envelope
	Err() error
	Close() error
}

// Dialer opens a Conn tagged with the given username.
type Dialer interface {
	Dial(ctx context.Context, endpoint, username string) (Conn, error)
}

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	sendQueueLen = 64
	eventQueue   = 256
)

// WebsocketDialer dials the server with gorilla/websocket.
type WebsocketDialer struct {
	Logger zerolog.Logger
	// ReadLimit caps a single inbound frame; images travel inline.
	ReadLimit int64
}

func (d WebsocketDialer) Dial(ctx context.Context, endpoint, username string) (Conn, error) {
	connectURL, err := buildConnectURL(endpoint, username)
	if err != nil {
		return nil, err
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, connectURL, http.Header{})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	if d.ReadLimit > 0 {
		ws.SetReadLimit(d.ReadLimit)
	}
	conn := &wsConn{
		ws:     ws,
		send:   make(chan []byte, sendQueueLen),
		events: make(chan Envelope, eventQueue),
		done:   make(chan struct{}),
		logger: d.Logger.With().Str("component", "conn").Str("user", username).Logger(),
	}
	go conn.writePump()
	go conn.readPump()
	conn.logger.Info().Str("endpoint", endpoint).Msg("connected")
	return conn, nil
}

type wsConn struct {
	ws        *websocket.Conn
	send      chan []byte
	events    chan Envelope
	done      chan struct{}
	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	logger    zerolog.Logger
}

func (c *wsConn) Emit(event string, payload any) error {
	envelope, err := NewEnvelope(event, payload)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- encoded:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return ErrSendQueueFull
	}
}

func (c *wsConn) Events() <-chan Envelope {
	return c.events
}

func (c *wsConn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *wsConn) Close() error {
	c.shutdown(nil)
	return nil
}

// shutdown records why the connection ended and signals both pumps. Only
// writePump writes to the socket, so the close frame is sent from there.
func (c *wsConn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.errMu.Lock()
		c.err = cause
		c.errMu.Unlock()
		close(c.done)
	})
}

func (c *wsConn) readPump() {
	defer close(c.events)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				err = nil
			}
			select {
			case <-c.done:
				// closed locally; the read error is our own doing
				err = nil
			default:
			}
			if err != nil {
				c.logger.Warn().Err(err).Msg("read failed")
			}
			c.shutdown(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil || envelope.Event == "" {
			c.logger.Warn().Int("bytes", len(payload)).Msg("dropping frame that is not an event envelope")
			continue
		}
		select {
		case c.events <- envelope:
		case <-c.done:
			return
		}
	}
}

// writePump is the only writer on the socket and closes it on the way out.
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-c.done:
			c.sendCloseFrame()
			return
		default:
		}
		select {
		case <-c.done:
			c.sendCloseFrame()
			return
		case message := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn().Err(err).Msg("write failed")
				c.shutdown(fmt.Errorf("write: %w", err))
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.shutdown(fmt.Errorf("ping: %w", err))
				return
			}
		}
	}
}

func (c *wsConn) sendCloseFrame() {
	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(writeWait))
}

// buildConnectURL tags the websocket endpoint with the display name.
func buildConnectURL(base, username string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid scheme for websocket: %s", parsed.Scheme)
	}
	query := parsed.Query()
	query.Set("name", username)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

// resolveFileLink turns a server-relative link into an http(s) URL on the
// same host as the websocket endpoint.
func resolveFileLink(wsBase, link string) string {
	if link == "" {
		return ""
	}
	ref, err := url.Parse(link)
	if err != nil || ref.IsAbs() {
		return link
	}
	parsed, err := url.Parse(wsBase)
	if err != nil {
		return link
	}
	switch parsed.Scheme {
	case "ws":
		parsed.Scheme = "http"
	case "wss":
		parsed.Scheme = "https"
	}
	parsed.RawQuery = ""
	parsed.Path = "/"
	return parsed.ResolveReference(ref).String()
}
