package internal

import (
	"fmt"
	"path/filepath"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
)

const downloadsListLimit = 5

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	if cmd, owned := model.coordinator.Update(message); owned {
		return model, cmd
	}

	switch typedMessage := message.(type) {
	case tea.WindowSizeMsg:
		model.width = typedMessage.Width
		model.height = typedMessage.Height
		return model, nil
	case downloadSavedMsg:
		model.handleDownloadSaved(typedMessage)
		return model, nil
	case downloadsListedMsg:
		model.handleDownloadsListed(typedMessage)
		return model, nil
	case tea.KeyMsg:
		// Ctrl+C always works, whatever panel is up.
		if typedMessage.Type == tea.KeyCtrlC {
			_ = model.coordinator.Close()
			return model, tea.Quit
		}
		if model.picker != nil {
			return model.updatePicker(typedMessage)
		}
		switch model.panel {
		case PanelUsername:
			return model.updateUsername(typedMessage)
		case PanelLobby:
			return model.updateLobby(typedMessage)
		case PanelChat:
			return model.updateChat(typedMessage)
		}
	}
	return model, nil
}

func (model *TUIModel) updateUsername(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		cmd, _ := model.coordinator.SubmitUsername(model.usernameInput.Value())
		return model, cmd
	case tea.KeyEsc:
		return model, tea.Quit
	}
	var cmd tea.Cmd
	model.usernameInput, cmd = model.usernameInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateLobby(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyUp:
		if model.roomCursor > 0 {
			model.roomCursor--
		}
		return model, nil
	case tea.KeyDown:
		if model.roomCursor < len(model.rooms)-1 {
			model.roomCursor++
		}
		return model, nil
	case tea.KeyEnter:
		// typed text joins (or creates) that room; otherwise the highlighted one
		if typed := strings.TrimSpace(model.roomInput.Value()); typed != "" {
			_ = model.coordinator.JoinRoom(typed)
			return model, nil
		}
		if model.roomCursor < len(model.rooms) {
			_ = model.rooms[model.roomCursor].Activate()
		}
		return model, nil
	case tea.KeyEsc:
		_ = model.coordinator.Close()
		return model, tea.Quit
	}
	var cmd tea.Cmd
	model.roomInput, cmd = model.roomInput.Update(key)
	return model, cmd
}

func (model *TUIModel) updateChat(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch key.Type {
	case tea.KeyEnter:
		value := model.messageInput.Value()
		trimmed := strings.TrimSpace(value)
		switch {
		case strings.HasPrefix(trimmed, "//"):
			// a doubled slash sends the rest as text
			value = strings.Replace(value, "/", "", 1)
		case strings.HasPrefix(trimmed, "/"):
			model.messageInput.SetValue("")
			return model, model.runCommand(trimmed)
		}
		_ = model.coordinator.SendMessage(value)
		return model, nil
	case tea.KeyEsc:
		_ = model.coordinator.LeaveRoom()
		return model, nil
	}
	var cmd tea.Cmd
	model.messageInput, cmd = model.messageInput.Update(key)
	return model, cmd
}

// runCommand handles the slash commands typed into the chat input.
func (model *TUIModel) runCommand(line string) tea.Cmd {
	fields := strings.Fields(line)
	command := strings.ToLower(fields[0])
	argument := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))

	switch command {
	case "/leave":
		_ = model.coordinator.LeaveRoom()
	case "/quit", "/exit":
		_ = model.coordinator.Close()
		return tea.Quit
	case "/image", "/file":
		kind := attachImage
		if command == "/file" {
			kind = attachFile
		}
		if argument == "" {
			model.openPicker(kind)
			return nil
		}
		return model.sendAttachment(kind, argument)
	case "/save":
		return model.saveLatestImage()
	case "/download", "/get":
		return model.downloadLatestFile()
	case "/downloads":
		ctx, ledger := model.ctx, model.ledger
		return func() tea.Msg {
			return listDownloads(ctx, ledger, downloadsListLimit)
		}
	case "/help":
		model.Notify(Notice{Level: NoticeInfo, Text: "/image [path]  /file [path]  /save  /download  /downloads  /leave  /quit  (// sends a leading /)"})
	default:
		model.Notify(Notice{Level: NoticeError, Text: fmt.Sprintf("unknown command %s (try /help)", command)})
	}
	return nil
}

func (model *TUIModel) sendAttachment(kind attachmentKind, path string) tea.Cmd {
	var cmd tea.Cmd
	if kind == attachImage {
		cmd, _ = model.coordinator.SendImage(path)
	} else {
		cmd, _ = model.coordinator.SendFile(path)
	}
	return cmd
}

func (model *TUIModel) saveLatestImage() tea.Cmd {
	for i := len(model.log) - 1; i >= 0; i-- {
		entry := model.log[i]
		if entry.Kind != EntryImage {
			continue
		}
		dir := model.downloadDir
		if dir == "" {
			dir = "."
		}
		return saveImageCmd(model.ctx, model.ledger, dir, model.roomTitle, entry.LogEntry, model.now())
	}
	model.Notify(Notice{Level: NoticeError, Text: "no image in this room to save"})
	return nil
}

func (model *TUIModel) downloadLatestFile() tea.Cmd {
	for i := len(model.log) - 1; i >= 0; i-- {
		entry := model.log[i]
		if entry.Kind != EntryFile {
			continue
		}
		if entry.File.Link == "" {
			model.Notify(Notice{Level: NoticeError, Text: entry.File.Name + " has no download link"})
			return nil
		}
		dir := model.downloadDir
		if dir == "" {
			dir = "."
		}
		return downloadFileCmd(model.ctx, model.ledger, dir, model.roomTitle, entry.LogEntry, model.now())
	}
	model.Notify(Notice{Level: NoticeError, Text: "no file in this room to download"})
	return nil
}

func (model *TUIModel) handleDownloadSaved(msg downloadSavedMsg) {
	if msg.err != nil {
		model.logger.Warn().Err(msg.err).Msg("save download failed")
		model.Notify(Notice{Level: NoticeError, Text: "save failed: " + msg.err.Error()})
		return
	}
	model.logger.Info().Str("path", msg.download.Path).Int64("bytes", msg.download.SizeBytes).Msg("saved download")
	model.Notify(Notice{Level: NoticeInfo, Text: fmt.Sprintf("saved %s (%s)", msg.download.Path, formatFileSize(msg.download.SizeBytes))})
}

func (model *TUIModel) handleDownloadsListed(msg downloadsListedMsg) {
	if msg.err != nil {
		model.Notify(Notice{Level: NoticeError, Text: "list downloads: " + msg.err.Error()})
		return
	}
	if len(msg.downloads) == 0 {
		model.Notify(Notice{Level: NoticeInfo, Text: "no saved downloads"})
		return
	}
	for _, download := range msg.downloads {
		model.Notify(Notice{Level: NoticeInfo, Text: fmt.Sprintf("%s from %s in %s, %s", filepath.Base(download.Path), download.Author, download.Room, humanize.Time(download.SavedAt))})
	}
}

func (model *TUIModel) openPicker(kind attachmentKind) {
	dir := model.browseDir
	if dir == "" {
		dir = defaultBrowsePath()
	}
	picker := &filePicker{kind: kind}
	model.picker = picker
	model.browseTo(dir)
}

func (model *TUIModel) browseTo(dir string) {
	items, err := browseDirectory(dir)
	if err != nil {
		model.picker.err = err
		return
	}
	model.picker.dir = dir
	model.picker.items = items
	model.picker.cursor = 0
	model.picker.err = nil
	model.browseDir = dir
}

func (model *TUIModel) updatePicker(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	picker := model.picker
	switch key.Type {
	case tea.KeyEsc:
		model.picker = nil
	case tea.KeyUp:
		if picker.cursor > 0 {
			picker.cursor--
		}
	case tea.KeyDown:
		if picker.cursor < len(picker.items)-1 {
			picker.cursor++
		}
	case tea.KeyBackspace, tea.KeyLeft:
		if parent := filepath.Dir(picker.dir); parent != picker.dir {
			model.browseTo(parent)
		}
	case tea.KeyEnter:
		if picker.cursor >= len(picker.items) {
			return model, nil
		}
		item := picker.items[picker.cursor]
		if item.IsDir {
			model.browseTo(item.Path)
			return model, nil
		}
		if picker.kind == attachImage && !isImagePath(item.Path) {
			model.Notify(Notice{Level: NoticeError, Text: item.Name + " is not an image"})
			return model, nil
		}
		return model, model.sendAttachment(picker.kind, item.Path)
	}
	return model, nil
}
