// Package devserver is a small in-memory lobby server speaking the same
// envelope protocol as the real messaging server. It backs `roomchat local`
// and the integration tests.
package devserver

import (
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	historyLimit = 50
	joinHistory  = 10
)

type room struct {
	name    string
	members map[*client]struct{}
	history []chatRecord
}

// Options tunes where shared files go and how large they may be.
type Options struct {
	UploadDir   string
	MaxFileSize int64
}

// Hub holds every room and connected client.
type Hub struct {
	logger   zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mutex   sync.Mutex
	clients map[*client]struct{}
	rooms   map[string]*room
	files   *fileStore
}

func NewHub(logger zerolog.Logger, opts Options) *Hub {
	if opts.UploadDir == "" {
		opts.UploadDir = filepath.Join(os.TempDir(), "roomchat-uploads")
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = 10 << 20
	}
	return &Hub{
		logger: logger.With().Str("component", "devserver").Logger(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		now:     time.Now,
		clients: make(map[*client]struct{}),
		rooms:   make(map[string]*room),
		files:   newFileStore(opts.UploadDir, opts.MaxFileSize),
	}
}

// Handler serves /ws and /files/.
func (hub *Hub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.HandleFunc("/files/", hub.files.serveDownload)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func (hub *Hub) ServeWS(writer http.ResponseWriter, request *http.Request) {
	websocketConn, err := hub.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		hub.logger.Warn().Err(err).Msg("upgrade failed")
		return
	}
	c := newClient(hub, websocketConn, strings.TrimSpace(request.URL.Query().Get("name")))

	hub.mutex.Lock()
	hub.clients[c] = struct{}{}
	greeting, _ := encode("connection", connectionBody{Status: "connected", Rooms: hub.summariesLocked()})
	c.queue(greeting)
	hub.mutex.Unlock()
	hub.logger.Info().Str("user", c.name).Msg("client connected")

	go c.writePump()
	go c.readPump()
}

// Rooms returns a snapshot of the open rooms sorted by name.
func (hub *Hub) Rooms() []roomSummary {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	return hub.summariesLocked()
}

func (hub *Hub) summariesLocked() []roomSummary {
	summaries := make([]roomSummary, 0, len(hub.rooms))
	for _, r := range hub.rooms {
		summaries = append(summaries, roomSummary{Name: r.name, Count: len(r.members)})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })
	return summaries
}

func (hub *Hub) broadcastRoomsLocked() {
	payload, err := encode("rooms", hub.summariesLocked())
	if err != nil {
		return
	}
	for c := range hub.clients {
		c.queue(payload)
	}
}

func (hub *Hub) join(c *client, body joinBody) {
	name := strings.TrimSpace(body.Room)
	if name == "" {
		c.sendError("room name is required")
		return
	}
	if c.name == "" {
		c.name = strings.TrimSpace(body.Name)
	}
	if c.name == "" {
		c.sendError("name is required")
		return
	}

	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if _, alive := hub.clients[c]; !alive {
		return
	}
	hub.leaveLocked(c)
	r, exists := hub.rooms[name]
	if !exists {
		r = &room{name: name, members: make(map[*client]struct{})}
		hub.rooms[name] = r
	}
	r.members[c] = struct{}{}
	c.room = name

	start := max(len(r.history)-joinHistory, 0)
	history := append([]chatRecord{}, r.history[start:]...)
	if joined, err := encode("joined", history); err == nil {
		c.queue(joined)
	}
	notice, _ := encode("message", chatRecord{User: "system", Message: c.name + " has entered the room.", Timestamp: hub.timestamp()})
	hub.fanOutLocked(r, notice)
	hub.broadcastRoomsLocked()
	hub.logger.Info().Str("user", c.name).Str("room", name).Msg("joined")
}

func (hub *Hub) leave(c *client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if hub.leaveLocked(c) {
		hub.broadcastRoomsLocked()
	}
}

// leaveLocked drops c from its room, closing the room when it empties.
func (hub *Hub) leaveLocked(c *client) bool {
	if c.room == "" {
		return false
	}
	if r, exists := hub.rooms[c.room]; exists {
		delete(r.members, c)
		if len(r.members) == 0 {
			delete(hub.rooms, r.name)
			hub.files.deleteRoom(r.name)
		}
	}
	hub.logger.Info().Str("user", c.name).Str("room", c.room).Msg("left")
	c.room = ""
	return true
}

func (hub *Hub) message(c *client, body inboundMessage) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	r, exists := hub.rooms[c.room]
	if c.room == "" || !exists {
		c.sendErrorLocked("join a room first")
		return
	}
	record := chatRecord{
		ID:        uuid.NewString(),
		User:      c.name,
		Message:   body.Message,
		Image:     body.Image,
		Timestamp: hub.timestamp(),
	}
	if body.Image != "" {
		record.Filename = body.Filename
	}
	if body.FileData != "" {
		data, mediaType, err := decodeDataURI(body.FileData)
		if err != nil {
			c.sendErrorLocked("invalid file data")
			return
		}
		file, err := hub.files.save(r.name, c.name, body.Filename, mediaType, data, hub.now())
		if err != nil {
			hub.logger.Warn().Err(err).Str("user", c.name).Msg("file rejected")
			c.sendErrorLocked(err.Error())
			return
		}
		record.Filename = file.Filename
		record.Link = "/files/" + file.ID + "/" + url.PathEscape(file.Filename)
	}
	if record.Message == "" && record.Image == "" && record.Link == "" {
		c.sendErrorLocked("empty message")
		return
	}
	r.history = append(r.history, record)
	if len(r.history) > historyLimit {
		r.history = append(r.history[:0], r.history[len(r.history)-historyLimit:]...)
	}
	payload, err := encode("message", record)
	if err != nil {
		return
	}
	hub.fanOutLocked(r, payload)
}

func (hub *Hub) disconnect(c *client) {
	hub.mutex.Lock()
	defer hub.mutex.Unlock()
	if _, exists := hub.clients[c]; !exists {
		return
	}
	delete(hub.clients, c)
	left := hub.leaveLocked(c)
	close(c.send)
	if left {
		hub.broadcastRoomsLocked()
	}
	hub.logger.Info().Str("user", c.name).Msg("client disconnected")
}

// fanOutLocked delivers payload to every member of r. Slow members are cut off
// the way the room loop does in the chat server.
func (hub *Hub) fanOutLocked(r *room, payload []byte) {
	for member := range r.members {
		if !member.queue(payload) {
			delete(r.members, member)
			delete(hub.clients, member)
			close(member.send)
			member.room = ""
		}
	}
}

func (hub *Hub) timestamp() string {
	return hub.now().UTC().Format(time.RFC3339)
}
