package internal

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

// async results delivered back into the Update loop
type (
	dialedMsg struct {
		username string
		conn     Conn
		err      error
	}
	inboundMsg struct {
		conn     Conn
		envelope Envelope
	}
	connClosedMsg struct {
		conn Conn
		err  error
	}
	fileReadMsg struct {
		generation uint64
		kind       attachmentKind
		file       EncodedFile
		err        error
	}
)

type attachmentKind int

const (
	attachImage attachmentKind = iota
	attachFile
)

// CoordinatorConfig collects the collaborators of a Coordinator.
type CoordinatorConfig struct {
	Endpoint string
	// IdentifyOnJoin repeats the username in every join request, for servers
	// that do not read it from the dial URL.
	IdentifyOnJoin bool
	Dialer         Dialer
	Files          FileReader
	Surface        Surface
	Stats          *Stats
	Logger         zerolog.Logger
	Context        context.Context
	Now            func() time.Time
}

// Coordinator owns the session state and is the only thing that mutates it.
// All methods must be called from the Bubble Tea update loop.
type Coordinator struct {
	session        Session
	conn           Conn
	dialing        bool
	endpoint       string
	identifyOnJoin bool
	dialer         Dialer
	files          FileReader
	surface        Surface
	stats          *Stats
	logger         zerolog.Logger
	ctx            context.Context
	now            func() time.Time
}

func NewCoordinator(cfg CoordinatorConfig) *Coordinator {
	if cfg.Stats == nil {
		cfg.Stats = NewStats()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Coordinator{
		endpoint:       cfg.Endpoint,
		identifyOnJoin: cfg.IdentifyOnJoin,
		dialer:         cfg.Dialer,
		files:          cfg.Files,
		surface:        cfg.Surface,
		stats:          cfg.Stats,
		logger:         cfg.Logger.With().Str("component", "coordinator").Logger(),
		ctx:            cfg.Context,
		now:            cfg.Now,
	}
}

// Session returns a copy of the current session state.
func (c *Coordinator) Session() Session {
	return c.session
}

// Endpoint is the websocket URL the coordinator dials.
func (c *Coordinator) Endpoint() string {
	return c.endpoint
}

// SubmitUsername validates name and starts dialling. The returned command
// completes the dial; the session only moves to the lobby once it succeeds.
func (c *Coordinator) SubmitUsername(name string) (tea.Cmd, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		err := &ValidationError{Field: "username", Reason: "display name cannot be empty"}
		c.notifyErr(err)
		return nil, err
	}
	if c.session.Phase != PhaseUnauthenticated {
		return nil, &ValidationError{Field: "username", Reason: "already connected as " + c.session.Username}
	}
	if c.dialing {
		return nil, nil
	}
	c.dialing = true
	c.logger.Info().Str("user", trimmed).Str("endpoint", c.endpoint).Msg("dialing")
	dialer, ctx, endpoint := c.dialer, c.ctx, c.endpoint
	return func() tea.Msg {
		conn, err := dialer.Dial(ctx, endpoint, trimmed)
		return dialedMsg{username: trimmed, conn: conn, err: err}
	}, nil
}

func (c *Coordinator) handleDialed(msg dialedMsg) tea.Cmd {
	c.dialing = false
	if msg.err != nil {
		c.logger.Warn().Err(msg.err).Msg("dial failed")
		c.surface.Notify(Notice{Level: NoticeError, Text: "Connection error: " + msg.err.Error()})
		return nil
	}
	c.conn = msg.conn
	c.session = c.session.enterLobby(msg.username)
	c.surface.ClearInput(InputUsername)
	c.surface.ShowPanel(PanelLobby)
	return listen(msg.conn)
}

// listen waits for exactly one inbound event; handleInbound re-arms it.
func listen(conn Conn) tea.Cmd {
	return func() tea.Msg {
		envelope, ok := <-conn.Events()
		if !ok {
			return connClosedMsg{conn: conn, err: conn.Err()}
		}
		return inboundMsg{conn: conn, envelope: envelope}
	}
}

func (c *Coordinator) handleInbound(msg inboundMsg) tea.Cmd {
	if msg.conn != c.conn {
		return nil
	}
	c.Dispatch(msg.envelope)
	return listen(msg.conn)
}

func (c *Coordinator) handleClosed(msg connClosedMsg) {
	if msg.conn != c.conn {
		return
	}
	text := "Disconnected from server."
	if msg.err != nil {
		text = "Disconnected from server: " + msg.err.Error()
	}
	c.logger.Info().Err(msg.err).Msg("connection closed")
	c.conn = nil
	c.session = c.session.reset()
	c.surface.ClearLog()
	c.surface.RenderRooms(nil)
	c.surface.ShowPanel(PanelUsername)
	c.surface.Notify(Notice{Level: NoticeError, Text: text})
}

// Dispatch routes one inbound event. Payloads that do not match their
// event's shape are logged and dropped.
func (c *Coordinator) Dispatch(envelope Envelope) {
	c.stats.IncInbound()
	var err error
	switch envelope.Event {
	case EventConnection:
		var rooms []Room
		if rooms, err = DecodeConnection(envelope.Data); err == nil {
			c.UpdateRoomList(rooms)
		}
	case EventRooms:
		var rooms []Room
		if rooms, err = DecodeRooms(envelope.Data); err == nil {
			c.UpdateRoomList(rooms)
		}
	case EventJoined:
		var history []ChatMessage
		var skipped int
		if history, skipped, err = DecodeJoined(envelope.Data, c.now()); err == nil {
			for i := 0; i < skipped; i++ {
				c.stats.IncMalformed()
			}
			if skipped > 0 {
				c.logger.Warn().Int("skipped", skipped).Int("kept", len(history)).Msg("dropping malformed history entries")
			}
			c.ReplaceLog(history)
		}
	case EventMessage:
		var msg ChatMessage
		if msg, err = DecodeMessage(envelope.Data, c.now()); err == nil {
			c.AppendToLog(msg)
		}
	case EventError:
		var serverErr *ServerError
		if serverErr, err = DecodeError(envelope.Data); err == nil {
			c.HandleServerError(serverErr)
		}
	default:
		c.logger.Debug().Str("event", envelope.Event).Msg("ignoring unknown event")
		return
	}
	if err != nil {
		c.stats.IncMalformed()
		c.logger.Warn().Err(err).Str("event", envelope.Event).Msg("dropping malformed event")
	}
}

// UpdateRoomList overwrites the lobby list. It is applied in every phase so a
// hidden lobby is already current when the user leaves a room.
func (c *Coordinator) UpdateRoomList(rooms []Room) {
	items := make([]RoomItem, 0, len(rooms))
	for _, room := range rooms {
		name := room.Name
		items = append(items, RoomItem{
			Room:     room,
			Activate: func() error { return c.JoinRoom(name) },
		})
	}
	c.surface.RenderRooms(items)
}

// JoinRoom joins (or, server side, creates) a room. Switching rooms without
// leaving first is allowed.
func (c *Coordinator) JoinRoom(room string) error {
	if c.session.Phase == PhaseUnauthenticated || c.conn == nil {
		err := &ValidationError{Field: "room", Reason: "not connected"}
		c.notifyErr(err)
		return err
	}
	room = strings.TrimSpace(room)
	if room == "" {
		err := &ValidationError{Field: "room", Reason: "room name cannot be empty"}
		c.notifyErr(err)
		return err
	}
	request := JoinRequest{Room: room}
	if c.identifyOnJoin {
		request.Name = c.session.Username
	}
	if err := c.emit(EventJoin, request); err != nil {
		return err
	}
	c.session = c.session.enterRoom(room)
	c.logger.Info().Str("room", room).Uint64("generation", c.session.Generation).Msg("joined room")
	c.surface.ClearInput(InputRoom)
	c.surface.ClearLog()
	c.surface.SetRoomTitle(room)
	c.surface.ShowPanel(PanelChat)
	return nil
}

// ReplaceLog renders the room history delivered after a join.
func (c *Coordinator) ReplaceLog(history []ChatMessage) {
	c.surface.ClearLog()
	for _, msg := range history {
		c.render(msg)
	}
}

// AppendToLog renders a live message, one entry per populated body. Messages
// that arrive outside a room are dropped.
func (c *Coordinator) AppendToLog(msg ChatMessage) {
	if c.session.Phase != PhaseInRoom {
		c.stats.IncUngated()
		c.logger.Debug().Str("user", msg.User).Stringer("session", c.session).Msg("dropping message outside a room")
		return
	}
	c.render(msg)
}

func (c *Coordinator) render(msg ChatMessage) {
	author := sanitizeName(msg.User)
	if msg.Text != "" {
		c.surface.AppendEntry(LogEntry{Kind: EntryText, Author: author, Text: sanitizeText(msg.Text), At: msg.At})
	}
	if msg.Image != "" {
		c.surface.AppendEntry(LogEntry{Kind: EntryImage, Author: author, Image: msg.Image, At: msg.At})
	}
	if msg.File != nil {
		ref := FileRef{Name: sanitizeName(msg.File.Name), Link: resolveFileLink(c.endpoint, msg.File.Link)}
		c.surface.AppendEntry(LogEntry{Kind: EntryFile, Author: author, File: ref, At: msg.At})
	}
}

// SendMessage emits a text message. Blank text is ignored without error.
func (c *Coordinator) SendMessage(text string) error {
	if err := c.requireRoom("message"); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if err := c.emit(EventMessage, TextMessage{Message: trimmed}); err != nil {
		return err
	}
	c.surface.ClearInput(InputMessage)
	return nil
}

// SendImage reads path in the background and emits it as an image message.
func (c *Coordinator) SendImage(path string) (tea.Cmd, error) {
	return c.sendAttachment(attachImage, path)
}

// SendFile reads path in the background and emits it as a file message.
func (c *Coordinator) SendFile(path string) (tea.Cmd, error) {
	return c.sendAttachment(attachFile, path)
}

func (c *Coordinator) sendAttachment(kind attachmentKind, path string) (tea.Cmd, error) {
	field := InputImage
	if kind == attachFile {
		field = InputFile
	}
	if err := c.requireRoom("file"); err != nil {
		return nil, err
	}
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	generation, files := c.session.Generation, c.files
	c.surface.ClearInput(field)
	return func() tea.Msg {
		file, err := files.Read(path)
		return fileReadMsg{generation: generation, kind: kind, file: file, err: err}
	}, nil
}

func (c *Coordinator) handleFileRead(msg fileReadMsg) {
	if msg.generation != c.session.Generation || c.session.Phase != PhaseInRoom {
		c.stats.IncStale()
		c.logger.Debug().Uint64("generation", msg.generation).Uint64("current", c.session.Generation).Msg("dropping stale file read")
		return
	}
	if msg.err != nil {
		c.notifyErr(msg.err)
		return
	}
	var payload any = FileMessage{Filename: msg.file.Name, FileData: msg.file.DataURI}
	if msg.kind == attachImage {
		payload = ImageMessage{Image: msg.file.DataURI, Filename: msg.file.Name}
	}
	if err := c.emit(EventMessage, payload); err == nil {
		c.logger.Info().Str("file", msg.file.Name).Int64("bytes", msg.file.Size).Msg("sent attachment")
	}
}

// LeaveRoom always lands in the lobby; the server is not waited on.
func (c *Coordinator) LeaveRoom() error {
	if c.session.Phase == PhaseUnauthenticated || c.conn == nil {
		return nil
	}
	emitErr := c.emit(EventLeave, LeaveRequest{})
	previous := c.session.Room
	c.session = c.session.leaveRoom()
	c.logger.Info().Str("room", previous).Msg("left room")
	c.surface.ClearLog()
	c.surface.SetRoomTitle("")
	c.surface.ShowPanel(PanelLobby)
	return emitErr
}

// HandleServerError shows a server-reported error. The session is untouched.
func (c *Coordinator) HandleServerError(err *ServerError) {
	c.logger.Warn().Str("message", err.Message).Msg("server error")
	c.surface.Notify(Notice{Level: NoticeError, Text: err.Message})
}

// Close drops the connection, if any.
func (c *Coordinator) Close() error {
	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	return conn.Close()
}

// Update feeds one of the coordinator's own async results back in. It reports
// false for messages it does not own.
func (c *Coordinator) Update(msg tea.Msg) (tea.Cmd, bool) {
	switch typed := msg.(type) {
	case dialedMsg:
		return c.handleDialed(typed), true
	case inboundMsg:
		return c.handleInbound(typed), true
	case connClosedMsg:
		c.handleClosed(typed)
		return nil, true
	case fileReadMsg:
		c.handleFileRead(typed)
		return nil, true
	}
	return nil, false
}

func (c *Coordinator) requireRoom(field string) error {
	if c.session.Phase != PhaseInRoom {
		err := &ValidationError{Field: field, Reason: "join a room first"}
		c.notifyErr(err)
		return err
	}
	return nil
}

func (c *Coordinator) emit(event string, payload any) error {
	if c.conn == nil {
		err := ErrClosed
		c.notifyErr(err)
		return err
	}
	if err := c.conn.Emit(event, payload); err != nil {
		c.logger.Warn().Err(err).Str("event", event).Msg("emit failed")
		c.notifyErr(err)
		return err
	}
	c.stats.IncOutbound()
	return nil
}

func (c *Coordinator) notifyErr(err error) {
	c.surface.Notify(Notice{Level: NoticeError, Text: err.Error()})
}
