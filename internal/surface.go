package internal

import "time"

// Panel is one of the mutually exclusive top-level views.
type Panel int

const (
	PanelUsername Panel = iota
	PanelLobby
	PanelChat
)

func (p Panel) String() string {
	switch p {
	case PanelUsername:
		return "username"
	case PanelLobby:
		return "lobby"
	case PanelChat:
		return "chat"
	default:
		return "unknown"
	}
}

// RoomItem is a rendered lobby entry. Activate joins the room it was built for.
type RoomItem struct {
	Room     Room
	Activate func() error
}

type EntryKind int

const (
	EntryText EntryKind = iota
	EntryImage
	EntryFile
)

// LogEntry is one rendered line (or block) of the chat log.
type LogEntry struct {
	Kind   EntryKind
	Author string
	Text   string
	Image  string
	File   FileRef
	At     time.Time
}

// InputField names an input control the coordinator may reset.
type InputField int

const (
	InputUsername InputField = iota
	InputRoom
	InputMessage
	InputImage
	InputFile
)

type NoticeLevel int

const (
	NoticeInfo NoticeLevel = iota
	NoticeError
)

type Notice struct {
	Level NoticeLevel
	Text  string
}

// Surface is everything the coordinator is allowed to do to the screen.
type Surface interface {
	ShowPanel(panel Panel)
	RenderRooms(items []RoomItem)
	SetRoomTitle(room string)
	ClearLog()
	AppendEntry(entry LogEntry)
	ClearInput(field InputField)
	Notify(notice Notice)
}
