package devserver

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
)

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type roomSummary struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type connectionBody struct {
	Status string        `json:"status"`
	Rooms  []roomSummary `json:"rooms"`
}

type joinBody struct {
	Name string `json:"name"`
	Room string `json:"room"`
}

// inboundMessage accepts every outbound shape the client emits.
type inboundMessage struct {
	Message  string `json:"message"`
	Image    string `json:"image"`
	Filename string `json:"filename"`
	FileData string `json:"file_data"`
}

type chatRecord struct {
	ID        string `json:"id,omitempty"`
	User      string `json:"user"`
	Message   string `json:"message,omitempty"`
	Image     string `json:"image,omitempty"`
	Filename  string `json:"filename,omitempty"`
	Link      string `json:"link,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

type errorBody struct {
	Message string `json:"message"`
}

func encode(event string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Event: event, Data: data})
}

// decodeDataURI returns the bytes and media type of a base64 data URI. Bare
// base64 is accepted too.
func decodeDataURI(value string) ([]byte, string, error) {
	mediaType := "application/octet-stream"
	if strings.HasPrefix(value, "data:") {
		header, payload, found := strings.Cut(value, ",")
		if !found {
			return nil, "", errors.New("data uri without payload")
		}
		if meta := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64"); meta != "" {
			mediaType = meta
		}
		value = payload
	}
	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, "", err
	}
	return raw, mediaType, nil
}
