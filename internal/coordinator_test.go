package internal

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeSurface struct {
	panel     Panel
	rooms     []RoomItem
	title     string
	entries   []LogEntry
	cleared   []InputField
	notices   []Notice
	logClears int
}

func (s *fakeSurface) ShowPanel(panel Panel)        { s.panel = panel }
func (s *fakeSurface) RenderRooms(items []RoomItem) { s.rooms = items }
func (s *fakeSurface) SetRoomTitle(room string)     { s.title = room }
func (s *fakeSurface) AppendEntry(entry LogEntry)   { s.entries = append(s.entries, entry) }
func (s *fakeSurface) ClearInput(field InputField)  { s.cleared = append(s.cleared, field) }
func (s *fakeSurface) Notify(notice Notice)         { s.notices = append(s.notices, notice) }

func (s *fakeSurface) ClearLog() {
	s.entries = nil
	s.logClears++
}

func (s *fakeSurface) wasCleared(field InputField) bool {
	for _, f := range s.cleared {
		if f == field {
			return true
		}
	}
	return false
}

type emitted struct {
	event   string
	payload any
}

type fakeConn struct {
	emitted []emitted
	events  chan Envelope
	emitErr error
	closed  bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{events: make(chan Envelope, 8)}
}

func (c *fakeConn) Emit(event string, payload any) error {
	if c.emitErr != nil {
		return c.emitErr
	}
	c.emitted = append(c.emitted, emitted{event: event, payload: payload})
	return nil
}

func (c *fakeConn) Events() <-chan Envelope { return c.events }
func (c *fakeConn) Err() error              { return nil }
func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conn      *fakeConn
	err       error
	usernames []string
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint, username string) (Conn, error) {
	d.usernames = append(d.usernames, username)
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type fakeFileReader struct {
	file EncodedFile
	err  error
}

func (r fakeFileReader) Read(path string) (EncodedFile, error) {
	if r.err != nil {
		return EncodedFile{}, r.err
	}
	file := r.file
	if file.Name == "" {
		file.Name = path
	}
	return file, nil
}

type harness struct {
	coordinator *Coordinator
	surface     *fakeSurface
	conn        *fakeConn
	dialer      *fakeDialer
	stats       *Stats
}

func newHarness(t *testing.T, identifyOnJoin bool) *harness {
	t.Helper()
	h := &harness{
		surface: &fakeSurface{},
		conn:    newFakeConn(),
		stats:   NewStats(),
	}
	h.dialer = &fakeDialer{conn: h.conn}
	h.coordinator = NewCoordinator(CoordinatorConfig{
		Endpoint:       "ws://chat.example:5000/ws",
		IdentifyOnJoin: identifyOnJoin,
		Dialer:         h.dialer,
		Files:          fakeFileReader{file: EncodedFile{DataURI: "data:image/png;base64,AAAA", Size: 3}},
		Surface:        h.surface,
		Stats:          h.stats,
		Logger:         zerolog.Nop(),
		Now:            func() time.Time { return time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC) },
	})
	return h
}

// connect runs the dial command and feeds the result back, as the program would.
func (h *harness) connect(t *testing.T, name string) {
	t.Helper()
	cmd, err := h.coordinator.SubmitUsername(name)
	if err != nil {
		t.Fatalf("SubmitUsername: %v", err)
	}
	if cmd == nil {
		t.Fatalf("expected a dial command")
	}
	if _, owned := h.coordinator.Update(cmd()); !owned {
		t.Fatalf("dial result not handled by coordinator")
	}
}

func (h *harness) join(t *testing.T, room string) {
	t.Helper()
	if err := h.coordinator.JoinRoom(room); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
}

func envelopeOf(t *testing.T, event string, payload any) Envelope {
	t.Helper()
	envelope, err := NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return envelope
}

func rawEnvelope(event, data string) Envelope {
	return Envelope{Event: event, Data: json.RawMessage(data)}
}

func TestSubmitUsernameRejectsBlank(t *testing.T) {
	for _, name := range []string{"", "   "} {
		h := newHarness(t, false)
		cmd, err := h.coordinator.SubmitUsername(name)
		var validation *ValidationError
		if !errors.As(err, &validation) {
			t.Fatalf("SubmitUsername(%q) error = %v, want ValidationError", name, err)
		}
		if cmd != nil {
			t.Fatalf("SubmitUsername(%q) returned a dial command", name)
		}
		if len(h.dialer.usernames) != 0 {
			t.Fatalf("SubmitUsername(%q) dialled", name)
		}
		if phase := h.coordinator.Session().Phase; phase != PhaseUnauthenticated {
			t.Fatalf("phase = %s, want unauthenticated", phase)
		}
		if len(h.surface.notices) == 0 {
			t.Fatalf("expected a validation notice")
		}
	}
}

func TestSubmitUsernameEntersLobby(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "  alice ")

	if got := h.dialer.usernames; len(got) != 1 || got[0] != "alice" {
		t.Fatalf("dialled with %v, want [alice]", got)
	}
	session := h.coordinator.Session()
	if session.Phase != PhaseInLobby || session.Username != "alice" {
		t.Fatalf("unexpected session %+v", session)
	}
	if h.surface.panel != PanelLobby {
		t.Fatalf("panel = %s, want lobby", h.surface.panel)
	}
	if !h.surface.wasCleared(InputUsername) {
		t.Fatalf("username input not cleared")
	}
	if _, err := h.coordinator.SubmitUsername("bob"); err == nil {
		t.Fatalf("expected error submitting a second username")
	}
}

func TestDialFailureStaysUnauthenticated(t *testing.T) {
	h := newHarness(t, false)
	h.dialer.err = errors.New("connection refused")
	h.connect(t, "alice")

	if phase := h.coordinator.Session().Phase; phase != PhaseUnauthenticated {
		t.Fatalf("phase = %s, want unauthenticated", phase)
	}
	if len(h.surface.notices) != 1 || !strings.Contains(h.surface.notices[0].Text, "connection refused") {
		t.Fatalf("unexpected notices %+v", h.surface.notices)
	}
	// a later attempt dials again
	h.dialer.err = nil
	h.connect(t, "alice")
	if phase := h.coordinator.Session().Phase; phase != PhaseInLobby {
		t.Fatalf("phase = %s after retry, want in-lobby", phase)
	}
}

func TestUpdateRoomListActivatesJoin(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	rooms := []Room{{Name: "general", Count: 3}, {Name: "random", Count: 0}, {Name: "go", Count: 1}}
	h.coordinator.Dispatch(envelopeOf(t, EventRooms, rooms))

	if len(h.surface.rooms) != len(rooms) {
		t.Fatalf("rendered %d rooms, want %d", len(h.surface.rooms), len(rooms))
	}
	for i, item := range h.surface.rooms {
		if item.Room != rooms[i] {
			t.Fatalf("room %d = %+v, want %+v", i, item.Room, rooms[i])
		}
	}

	if err := h.surface.rooms[1].Activate(); err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if len(h.conn.emitted) != 1 {
		t.Fatalf("expected one emit, got %d", len(h.conn.emitted))
	}
	sent := h.conn.emitted[0]
	if sent.event != EventJoin || sent.payload != (JoinRequest{Room: "random"}) {
		t.Fatalf("unexpected emit %+v", sent)
	}
	if !h.coordinator.Session().InRoom("random") {
		t.Fatalf("session = %s, want in-room(random)", h.coordinator.Session())
	}
}

func TestConnectionEventPopulatesLobby(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.coordinator.Dispatch(rawEnvelope(EventConnection, `{"status":"connected","rooms":[{"name":"a","count":1}]}`))
	if len(h.surface.rooms) != 1 || h.surface.rooms[0].Room.Name != "a" {
		t.Fatalf("unexpected rooms %+v", h.surface.rooms)
	}
}

func TestJoinRoomShowsEmptyChat(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.surface.entries = []LogEntry{{Kind: EntryText, Text: "left over"}}
	h.join(t, "lobby-x")

	if !h.coordinator.Session().InRoom("lobby-x") {
		t.Fatalf("session = %s", h.coordinator.Session())
	}
	if len(h.surface.entries) != 0 {
		t.Fatalf("log not cleared: %+v", h.surface.entries)
	}
	if h.surface.panel != PanelChat || h.surface.title != "lobby-x" {
		t.Fatalf("panel %s title %q", h.surface.panel, h.surface.title)
	}
	if !h.surface.wasCleared(InputRoom) {
		t.Fatalf("room input not cleared")
	}
}

func TestJoinRoomIdentifyOnJoin(t *testing.T) {
	h := newHarness(t, true)
	h.connect(t, "alice")
	h.join(t, "lobby")
	want := JoinRequest{Name: "alice", Room: "lobby"}
	if got := h.conn.emitted[0].payload; got != want {
		t.Fatalf("join payload = %+v, want %+v", got, want)
	}
}

func TestJoinRoomValidation(t *testing.T) {
	h := newHarness(t, false)
	if err := h.coordinator.JoinRoom("lobby"); err == nil {
		t.Fatalf("expected error joining before connecting")
	}
	h.connect(t, "alice")
	if err := h.coordinator.JoinRoom("   "); err == nil {
		t.Fatalf("expected error for blank room")
	}
	if len(h.conn.emitted) != 0 {
		t.Fatalf("blank join emitted %+v", h.conn.emitted)
	}
	if h.coordinator.Session().Phase != PhaseInLobby {
		t.Fatalf("phase changed on rejected join")
	}
}

func TestSwitchRoomsWithoutLeaving(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "one")
	first := h.coordinator.Session().Generation
	h.join(t, "two")
	session := h.coordinator.Session()
	if !session.InRoom("two") || session.Generation == first {
		t.Fatalf("unexpected session after switch %+v", session)
	}
}

func TestReplaceLogRendersHistoryInOrder(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.surface.entries = []LogEntry{{Kind: EntryText, Text: "stale"}}

	h.coordinator.Dispatch(rawEnvelope(EventJoined, `[{"user":"bob","message":"first"},{"user":"carol","message":"second"}]`))

	if len(h.surface.entries) != 2 {
		t.Fatalf("expected 2 entries, got %d: %+v", len(h.surface.entries), h.surface.entries)
	}
	if h.surface.entries[0].Text != "first" || h.surface.entries[1].Text != "second" {
		t.Fatalf("unexpected order %+v", h.surface.entries)
	}
	if h.surface.entries[0].Author != "bob" {
		t.Fatalf("author = %q", h.surface.entries[0].Author)
	}
}

func TestReplaceLogKeepsValidHistoryEntries(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")

	h.coordinator.Dispatch(rawEnvelope(EventJoined, `[{"user":"bob","message":"first"},{"message":"no user"},{"user":"carol","message":"second"}]`))

	if len(h.surface.entries) != 2 || h.surface.entries[0].Text != "first" || h.surface.entries[1].Text != "second" {
		t.Fatalf("unexpected entries %+v", h.surface.entries)
	}
	if got := h.stats.Snapshot()["dropped_malformed"]; got != 1 {
		t.Fatalf("dropped_malformed = %d, want 1", got)
	}
}

func TestAppendToLogRendersTextImageFile(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")

	h.coordinator.Dispatch(rawEnvelope(EventMessage, `{"user":"bob","message":"look","image":"data:image/png;base64,AAAA","filename":"notes.txt","link":"/files/abc/notes.txt"}`))

	if len(h.surface.entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(h.surface.entries))
	}
	kinds := []EntryKind{EntryText, EntryImage, EntryFile}
	for i, kind := range kinds {
		if h.surface.entries[i].Kind != kind {
			t.Fatalf("entry %d kind = %d, want %d", i, h.surface.entries[i].Kind, kind)
		}
	}
	file := h.surface.entries[2].File
	if file.Name != "notes.txt" || file.Link != "http://chat.example:5000/files/abc/notes.txt" {
		t.Fatalf("unexpected file ref %+v", file)
	}
}

func TestAppendToLogSanitizes(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.coordinator.Dispatch(rawEnvelope(EventMessage, `{"user":"<b>mallory</b>","message":"<script>x</script>hi\u001b[2J"}`))

	if len(h.surface.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(h.surface.entries))
	}
	entry := h.surface.entries[0]
	if entry.Author != "mallory" {
		t.Fatalf("author = %q", entry.Author)
	}
	// markup in a body is plain text to a terminal; only control bytes go
	if entry.Text != "<script>x</script>hi[2J" {
		t.Fatalf("text = %q", entry.Text)
	}
}

func TestMessageOutsideRoomIsDropped(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.coordinator.Dispatch(rawEnvelope(EventMessage, `{"user":"bob","message":"hello"}`))

	if len(h.surface.entries) != 0 {
		t.Fatalf("lobby rendered a chat message: %+v", h.surface.entries)
	}
	if got := h.stats.Snapshot()["dropped_ungated"]; got != 1 {
		t.Fatalf("dropped_ungated = %d, want 1", got)
	}
}

func TestMalformedEventsAreDropped(t *testing.T) {
	cases := []Envelope{
		rawEnvelope(EventRooms, `{"name":"not a list"}`),
		rawEnvelope(EventRooms, `[{"name":"","count":1}]`),
		rawEnvelope(EventConnection, `{"rooms":[{"name":"a","count":-1}]}`),
		rawEnvelope(EventJoined, `[{"message":"no user"}]`),
		rawEnvelope(EventMessage, `{"user":"bob"}`),
		rawEnvelope(EventError, `{}`),
	}
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.surface.rooms = []RoomItem{{Room: Room{Name: "kept"}}}

	for _, envelope := range cases {
		h.coordinator.Dispatch(envelope)
	}
	if got := h.stats.Snapshot()["dropped_malformed"]; got != uint64(len(cases)) {
		t.Fatalf("dropped_malformed = %d, want %d", got, len(cases))
	}
	if len(h.surface.entries) != 0 {
		t.Fatalf("malformed events rendered entries: %+v", h.surface.entries)
	}
	if len(h.surface.rooms) != 1 || h.surface.rooms[0].Room.Name != "kept" {
		t.Fatalf("malformed room list replaced the lobby: %+v", h.surface.rooms)
	}
	if !h.coordinator.Session().InRoom("lobby") {
		t.Fatalf("session changed: %s", h.coordinator.Session())
	}
}

func TestUnknownEventIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.coordinator.Dispatch(rawEnvelope("typing", `{"user":"bob"}`))
	snapshot := h.stats.Snapshot()
	if snapshot["dropped_malformed"] != 0 || snapshot["inbound_total"] != 1 {
		t.Fatalf("unexpected stats %v", snapshot)
	}
}

func TestSendMessage(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.conn.emitted = nil

	if err := h.coordinator.SendMessage(""); err != nil {
		t.Fatalf("SendMessage empty: %v", err)
	}
	if err := h.coordinator.SendMessage("   "); err != nil {
		t.Fatalf("SendMessage blank: %v", err)
	}
	if len(h.conn.emitted) != 0 {
		t.Fatalf("blank text emitted %+v", h.conn.emitted)
	}

	if err := h.coordinator.SendMessage(" hi "); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if len(h.conn.emitted) != 1 {
		t.Fatalf("expected one emit, got %d", len(h.conn.emitted))
	}
	sent := h.conn.emitted[0]
	if sent.event != EventMessage || sent.payload != (TextMessage{Message: "hi"}) {
		t.Fatalf("unexpected emit %+v", sent)
	}
	if !h.surface.wasCleared(InputMessage) {
		t.Fatalf("message input not cleared")
	}
	if got := h.stats.Snapshot()["outbound_total"]; got != 2 {
		t.Fatalf("outbound_total = %d, want 2 (join + message)", got)
	}
}

func TestSendMessageOutsideRoom(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	if err := h.coordinator.SendMessage("hi"); err == nil {
		t.Fatalf("expected error sending from the lobby")
	}
	if len(h.conn.emitted) != 0 {
		t.Fatalf("emitted %+v", h.conn.emitted)
	}
}

func TestSendMessageKeepsInputWhenEmitFails(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.surface.cleared = nil
	h.conn.emitErr = ErrSendQueueFull

	if err := h.coordinator.SendMessage("hi"); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("err = %v, want ErrSendQueueFull", err)
	}
	if h.surface.wasCleared(InputMessage) {
		t.Fatalf("input cleared although the message was not sent")
	}
}

func TestLeaveRoomReturnsToLobby(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.surface.entries = []LogEntry{{Kind: EntryText, Text: "bye"}}

	if err := h.coordinator.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	last := h.conn.emitted[len(h.conn.emitted)-1]
	if last.event != EventLeave {
		t.Fatalf("last emit = %s, want leave", last.event)
	}
	if h.coordinator.Session().Phase != PhaseInLobby {
		t.Fatalf("phase = %s", h.coordinator.Session().Phase)
	}
	if h.surface.panel != PanelLobby || len(h.surface.entries) != 0 || h.surface.title != "" {
		t.Fatalf("surface not reset: panel %s entries %d title %q", h.surface.panel, len(h.surface.entries), h.surface.title)
	}
}

func TestLeaveRoomLandsInLobbyEvenWhenEmitFails(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.conn.emitErr = ErrSendQueueFull

	if err := h.coordinator.LeaveRoom(); !errors.Is(err, ErrSendQueueFull) {
		t.Fatalf("err = %v, want ErrSendQueueFull", err)
	}
	if h.coordinator.Session().Phase != PhaseInLobby || h.surface.panel != PanelLobby {
		t.Fatalf("expected lobby after failed leave, got %s / %s", h.coordinator.Session(), h.surface.panel)
	}
}

func TestLeaveRoomFromLobbyStaysInLobby(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	if err := h.coordinator.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	if h.coordinator.Session().Phase != PhaseInLobby || h.surface.panel != PanelLobby {
		t.Fatalf("unexpected state %s / %s", h.coordinator.Session(), h.surface.panel)
	}
}

func TestSendImageEmitsAfterRead(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.conn.emitted = nil

	cmd, err := h.coordinator.SendImage("cat.png")
	if err != nil || cmd == nil {
		t.Fatalf("SendImage: cmd %v err %v", cmd != nil, err)
	}
	if !h.surface.wasCleared(InputImage) {
		t.Fatalf("image selection not cleared")
	}
	h.coordinator.Update(cmd())
	if len(h.conn.emitted) != 1 {
		t.Fatalf("expected one emit, got %d", len(h.conn.emitted))
	}
	want := ImageMessage{Image: "data:image/png;base64,AAAA", Filename: "cat.png"}
	if got := h.conn.emitted[0].payload; got != want {
		t.Fatalf("payload = %+v, want %+v", got, want)
	}
}

func TestSendFileEmitsFileData(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.conn.emitted = nil

	cmd, _ := h.coordinator.SendFile("notes.txt")
	h.coordinator.Update(cmd())
	want := FileMessage{Filename: "notes.txt", FileData: "data:image/png;base64,AAAA"}
	if len(h.conn.emitted) != 1 || h.conn.emitted[0].payload != want {
		t.Fatalf("unexpected emits %+v", h.conn.emitted)
	}
}

func TestSendAttachmentWithoutPathIsNoop(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	cmd, err := h.coordinator.SendFile("  ")
	if cmd != nil || err != nil {
		t.Fatalf("expected no-op, got cmd %v err %v", cmd != nil, err)
	}
}

func TestStaleFileReadIsDropped(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "one")

	cmd, _ := h.coordinator.SendImage("cat.png")
	// the user moves on before the read finishes
	if err := h.coordinator.LeaveRoom(); err != nil {
		t.Fatalf("LeaveRoom: %v", err)
	}
	h.join(t, "two")
	h.conn.emitted = nil

	h.coordinator.Update(cmd())
	if len(h.conn.emitted) != 0 {
		t.Fatalf("stale read emitted %+v", h.conn.emitted)
	}
	if got := h.stats.Snapshot()["dropped_stale"]; got != 1 {
		t.Fatalf("dropped_stale = %d, want 1", got)
	}
}

func TestFileReadErrorNotifies(t *testing.T) {
	h := newHarness(t, false)
	h.coordinator.files = fakeFileReader{err: &ValidationError{Field: "file", Reason: "too big"}}
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.conn.emitted = nil

	cmd, _ := h.coordinator.SendFile("big.bin")
	h.coordinator.Update(cmd())
	if len(h.conn.emitted) != 0 {
		t.Fatalf("emitted %+v", h.conn.emitted)
	}
	last := h.surface.notices[len(h.surface.notices)-1]
	if last.Level != NoticeError || !strings.Contains(last.Text, "too big") {
		t.Fatalf("unexpected notice %+v", last)
	}
}

func TestServerErrorNotifies(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	h.coordinator.Dispatch(rawEnvelope(EventError, `{"message":"room is full"}`))

	if len(h.surface.notices) != 1 || h.surface.notices[0].Text != "room is full" {
		t.Fatalf("unexpected notices %+v", h.surface.notices)
	}
	if !h.coordinator.Session().InRoom("lobby") {
		t.Fatalf("server error changed the session")
	}
}

func TestInboundEventsAreListenedInOrder(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")

	h.conn.events <- rawEnvelope(EventMessage, `{"user":"bob","message":"one"}`)
	h.conn.events <- rawEnvelope(EventMessage, `{"user":"bob","message":"two"}`)

	cmd := listen(h.conn)
	for i := 0; i < 2; i++ {
		next, owned := h.coordinator.Update(cmd())
		if !owned || next == nil {
			t.Fatalf("inbound event %d not re-armed", i)
		}
		cmd = next
	}
	if len(h.surface.entries) != 2 || h.surface.entries[0].Text != "one" || h.surface.entries[1].Text != "two" {
		t.Fatalf("unexpected entries %+v", h.surface.entries)
	}
}

func TestConnectionClosedResetsSession(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	close(h.conn.events)

	h.coordinator.Update(listen(h.conn)())

	if phase := h.coordinator.Session().Phase; phase != PhaseUnauthenticated {
		t.Fatalf("phase = %s, want unauthenticated", phase)
	}
	if h.surface.panel != PanelUsername {
		t.Fatalf("panel = %s, want username", h.surface.panel)
	}
	if err := h.coordinator.SendMessage("hi"); err == nil {
		t.Fatalf("expected error sending after disconnect")
	}
}

func TestEventsFromOldConnectionIgnored(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	h.join(t, "lobby")
	other := newFakeConn()

	cmd, owned := h.coordinator.Update(inboundMsg{conn: other, envelope: rawEnvelope(EventMessage, `{"user":"x","message":"ghost"}`)})
	if !owned || cmd != nil {
		t.Fatalf("expected the old connection's event to be swallowed")
	}
	h.coordinator.Update(connClosedMsg{conn: other})
	if len(h.surface.entries) != 0 || !h.coordinator.Session().InRoom("lobby") {
		t.Fatalf("old connection affected state: %+v %s", h.surface.entries, h.coordinator.Session())
	}
}

func TestCloseDropsConnection(t *testing.T) {
	h := newHarness(t, false)
	h.connect(t, "alice")
	if err := h.coordinator.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !h.conn.closed {
		t.Fatalf("connection not closed")
	}
	if err := h.coordinator.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
