package internal

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// event names exchanged with the messaging server
const (
	EventConnection = "connection"
	EventRooms      = "rooms"
	EventJoined     = "joined"
	EventMessage    = "message"
	EventError      = "error"
	EventJoin       = "join"
	EventLeave      = "leave"
)

// Envelope is the frame both sides put on the websocket: a tag plus its payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Room is a snapshot of one server-side room as seen from the lobby.
type Room struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type connectionPayload struct {
	Rooms []Room `json:"rooms"`
}

// messagePayload is the inbound shape of `message` and of each `joined` entry.
// Both file shapes are accepted: {filename, link} and a bare {file}.
type messagePayload struct {
	User      string `json:"user"`
	Message   string `json:"message,omitempty"`
	Image     string `json:"image,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Link      string `json:"link,omitempty"`
	File      string `json:"file,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// JoinRequest is emitted on `join`. Name is only set when the handle is not
// tagged with the username at dial time.
type JoinRequest struct {
	Name string `json:"name,omitempty"`
	Room string `json:"room"`
}

// TextMessage, ImageMessage and FileMessage are the outbound `message` bodies.
type TextMessage struct {
	Message string `json:"message"`
}

type ImageMessage struct {
	Image    string `json:"image"`
	Filename string `json:"filename"`
}

type FileMessage struct {
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

// LeaveRequest is the empty `leave` body.
type LeaveRequest struct{}

// FileRef points at a file the server stores for the room.
type FileRef struct {
	Name string
	Link string
}

// ChatMessage is a validated inbound message. Any combination of Text, Image
// and File may be populated.
type ChatMessage struct {
	User  string
	Text  string
	Image string
	File  *FileRef
	At    time.Time
}

var errMalformed = errors.New("malformed payload")

func malformed(event, reason string) error {
	return fmt.Errorf("%s: %w: %s", event, errMalformed, reason)
}

func decodeRooms(event string, rooms []Room) ([]Room, error) {
	out := make([]Room, 0, len(rooms))
	for _, room := range rooms {
		if strings.TrimSpace(room.Name) == "" {
			return nil, malformed(event, "room without name")
		}
		if room.Count < 0 {
			return nil, malformed(event, fmt.Sprintf("room %q has negative count", room.Name))
		}
		out = append(out, room)
	}
	return out, nil
}

// DecodeConnection parses the `connection` payload.
func DecodeConnection(data json.RawMessage) ([]Room, error) {
	var payload connectionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, malformed(EventConnection, err.Error())
	}
	return decodeRooms(EventConnection, payload.Rooms)
}

// DecodeRooms parses the `rooms` payload.
func DecodeRooms(data json.RawMessage) ([]Room, error) {
	var rooms []Room
	if err := json.Unmarshal(data, &rooms); err != nil {
		return nil, malformed(EventRooms, err.Error())
	}
	return decodeRooms(EventRooms, rooms)
}

// DecodeJoined parses the room history delivered after a join. Invalid
// entries are skipped and counted; only a payload that is not a list fails.
func DecodeJoined(data json.RawMessage, now time.Time) ([]ChatMessage, int, error) {
	var payloads []messagePayload
	if err := json.Unmarshal(data, &payloads); err != nil {
		return nil, 0, malformed(EventJoined, err.Error())
	}
	history := make([]ChatMessage, 0, len(payloads))
	skipped := 0
	for _, payload := range payloads {
		msg, err := payload.validate(EventJoined, now)
		if err != nil {
			skipped++
			continue
		}
		history = append(history, msg)
	}
	return history, skipped, nil
}

// DecodeMessage parses a live `message` event.
func DecodeMessage(data json.RawMessage, now time.Time) (ChatMessage, error) {
	var payload messagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return ChatMessage{}, malformed(EventMessage, err.Error())
	}
	return payload.validate(EventMessage, now)
}

// DecodeError parses the `error` payload into a ServerError.
func DecodeError(data json.RawMessage) (*ServerError, error) {
	var payload errorPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, malformed(EventError, err.Error())
	}
	if payload.Message == "" {
		return nil, malformed(EventError, "empty message")
	}
	return &ServerError{Message: payload.Message}, nil
}

func (payload messagePayload) validate(event string, now time.Time) (ChatMessage, error) {
	if strings.TrimSpace(payload.User) == "" {
		return ChatMessage{}, malformed(event, "missing user")
	}
	msg := ChatMessage{
		User:  payload.User,
		Text:  payload.Message,
		Image: payload.Image,
		At:    now,
	}
	switch {
	case payload.Filename != "":
		msg.File = &FileRef{Name: payload.Filename, Link: payload.Link}
	case payload.File != "":
		msg.File = &FileRef{Name: payload.File, Link: "/files/" + payload.File}
	}
	if msg.Text == "" && msg.Image == "" && msg.File == nil {
		return ChatMessage{}, malformed(event, "no text, image or file")
	}
	if payload.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, payload.Timestamp); err == nil {
			msg.At = ts
		} else if ts, err := time.ParseInLocation("2006-01-02T15:04:05.999999", payload.Timestamp, time.Local); err == nil {
			msg.At = ts
		}
	}
	return msg, nil
}

// NewEnvelope encodes payload under the given event name.
func NewEnvelope(event string, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	return Envelope{Event: event, Data: data}, nil
}
