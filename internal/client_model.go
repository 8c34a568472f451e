package internal

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
)

const (
	maxLogEntries = 500
	maxNotices    = 4
)

// ModelConfig is everything the TUI needs to start.
type ModelConfig struct {
	Endpoint       string
	Username       string
	IdentifyOnJoin bool
	Dialer         Dialer
	Files          FileReader
	Ledger         DownloadLedger
	DownloadDir    string
	Stats          *Stats
	Logger         zerolog.Logger
	Context        context.Context
}

// TUIModel is the Bubble Tea program and the coordinator's render surface.
type TUIModel struct {
	coordinator *Coordinator
	ctx         context.Context
	ledger      DownloadLedger
	downloadDir string
	presetUser  string
	logger      zerolog.Logger
	now         func() time.Time

	usernameInput textinput.Model
	roomInput     textinput.Model
	messageInput  textinput.Model

	panel      Panel
	rooms      []RoomItem
	roomCursor int
	roomTitle  string
	log        []renderedEntry
	notices    []Notice
	picker     *filePicker
	browseDir  string
	width      int
	height     int
}

// renderedEntry caches the half-block rows of an image entry so View stays cheap.
type renderedEntry struct {
	LogEntry
	imageLines []string
	imageErr   error
}

type filePicker struct {
	kind   attachmentKind
	dir    string
	items  []FileItem
	cursor int
	err    error
}

func NewTUIModel(cfg ModelConfig) *TUIModel {
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Files == nil {
		cfg.Files = DataURIReader{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{Logger: cfg.Logger}
	}

	model := &TUIModel{
		ctx:           cfg.Context,
		ledger:        cfg.Ledger,
		downloadDir:   cfg.DownloadDir,
		presetUser:    cfg.Username,
		logger:        cfg.Logger,
		now:           time.Now,
		usernameInput: newInput("name> ", "Enter display name…"),
		roomInput:     newInput("room> ", "New room name (or pick one above)…"),
		messageInput:  newInput("> ", "Type a message…"),
		log:           make([]renderedEntry, 0, 64),
	}
	model.coordinator = NewCoordinator(CoordinatorConfig{
		Endpoint:       cfg.Endpoint,
		IdentifyOnJoin: cfg.IdentifyOnJoin,
		Dialer:         cfg.Dialer,
		Files:          cfg.Files,
		Surface:        model,
		Stats:          cfg.Stats,
		Logger:         cfg.Logger,
		Context:        cfg.Context,
	})
	model.ShowPanel(PanelUsername)
	if cfg.Username != "" {
		model.usernameInput.SetValue(cfg.Username)
	}
	return model
}

func newInput(prompt, placeholder string) textinput.Model {
	input := textinput.New()
	input.Prompt = prompt
	input.Placeholder = placeholder
	input.CharLimit = 0
	return input
}

// Coordinator exposes the session owner, mostly for the exit log line.
func (model *TUIModel) Coordinator() *Coordinator {
	return model.coordinator
}

// a preset username skips straight to dialling
func (model *TUIModel) Init() tea.Cmd {
	if model.presetUser == "" {
		return textinput.Blink
	}
	cmd, _ := model.coordinator.SubmitUsername(model.presetUser)
	return tea.Batch(textinput.Blink, cmd)
}

func (model *TUIModel) ShowPanel(panel Panel) {
	model.panel = panel
	model.usernameInput.Blur()
	model.roomInput.Blur()
	model.messageInput.Blur()
	switch panel {
	case PanelUsername:
		model.usernameInput.Focus()
	case PanelLobby:
		model.roomInput.Focus()
	case PanelChat:
		model.messageInput.Focus()
	}
	if panel != PanelChat {
		model.picker = nil
	}
}

func (model *TUIModel) RenderRooms(items []RoomItem) {
	model.rooms = items
	if model.roomCursor >= len(items) {
		model.roomCursor = max(len(items)-1, 0)
	}
}

func (model *TUIModel) SetRoomTitle(room string) {
	model.roomTitle = room
}

func (model *TUIModel) ClearLog() {
	model.log = model.log[:0]
}

func (model *TUIModel) AppendEntry(entry LogEntry) {
	rendered := renderedEntry{LogEntry: entry}
	if entry.Kind == EntryImage {
		rendered.imageLines, rendered.imageErr = renderImageBlocks(entry.Image, imageMaxWidth, imageMaxHeight)
	}
	model.log = append(model.log, rendered)
	if len(model.log) > maxLogEntries {
		model.log = append(model.log[:0], model.log[len(model.log)-maxLogEntries:]...)
	}
}

func (model *TUIModel) ClearInput(field InputField) {
	switch field {
	case InputUsername:
		model.usernameInput.SetValue("")
	case InputRoom:
		model.roomInput.SetValue("")
	case InputMessage:
		model.messageInput.SetValue("")
	case InputImage, InputFile:
		model.picker = nil
	}
}

func (model *TUIModel) Notify(notice Notice) {
	model.notices = append(model.notices, notice)
	if len(model.notices) > maxNotices {
		model.notices = append(model.notices[:0], model.notices[len(model.notices)-maxNotices:]...)
	}
}

// RunClient runs the Bubble Tea program until the user quits or ctx ends.
func RunClient(cfg ModelConfig) (*TUIModel, error) {
	model := NewTUIModel(cfg)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if cfg.Context != nil {
		go func() {
			<-cfg.Context.Done()
			program.Quit()
		}()
	}
	_, err := program.Run()
	_ = model.coordinator.Close()
	return model, err
}
