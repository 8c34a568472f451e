package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

var (
	appTitleStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle       = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuHintStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	noticeBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderForeground(lipgloss.Color("95")).Padding(0, 1).MarginTop(1)
	chatHeaderStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(lipgloss.Color("63")).Padding(0, 1)
	statusStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("109"))
	connectingStyle    = statusStyle.Copy().Foreground(lipgloss.Color("178")).Italic(true)
	messageBodyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("253"))
	messageBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle      = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	timestampStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	usernameStyle      = lipgloss.NewStyle().Bold(true)
	activeUserStyle    = usernameStyle.Copy().Foreground(lipgloss.Color("213"))
	systemMessageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Italic(true)
	errorStyle         = statusStyle.Copy().Foreground(lipgloss.Color("196")).Bold(true)
	linkStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("45")).Underline(true)
	dividerStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("237")).Render(" ┃ ")
	itemSelectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	itemStyle          = lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	userColorPalette   = []lipgloss.Color{
		lipgloss.Color("45"),
		lipgloss.Color("81"),
		lipgloss.Color("141"),
		lipgloss.Color("98"),
		lipgloss.Color("63"),
		lipgloss.Color("135"),
		lipgloss.Color("32"),
	}
)

// rows the chat view keeps for header, input and hints
const chatChromeRows = 12

func (model *TUIModel) View() string {
	switch model.panel {
	case PanelLobby:
		return model.renderLobbyView()
	case PanelChat:
		if model.picker != nil {
			return model.renderPickerView()
		}
		return model.renderChatView()
	default:
		return model.renderUsernameView()
	}
}

func (model *TUIModel) renderUsernameView() string {
	title := appTitleStyle.Render("RoomChat")
	subtitle := subtitleStyle.Render("Pick a display name to connect to " + model.coordinator.Endpoint())

	sections := []string{lipgloss.JoinVertical(lipgloss.Left, title, subtitle)}
	if model.coordinator.dialing {
		sections = append(sections, connectingStyle.Render("Connecting…"))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections, inputBoxStyle.Render(model.usernameInput.View()))
	sections = append(sections, menuHintStyle.Render("Enter connect • Esc quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderLobbyView() string {
	session := model.coordinator.Session()
	title := appTitleStyle.Render(fmt.Sprintf("Welcome, %s", sanitizeName(session.Username)))
	subtitle := subtitleStyle.Render(fmt.Sprintf("Rooms open: %d", len(model.rooms)))

	sections := []string{title, subtitle}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}

	var lines []string
	if len(model.rooms) == 0 {
		lines = append(lines, menuHintStyle.Render("No rooms yet. Type a name below to create one."))
	}
	for idx, item := range model.rooms {
		label := fmt.Sprintf("%s (%d)", sanitizeName(item.Room.Name), item.Room.Count)
		if idx == model.roomCursor {
			lines = append(lines, itemSelectedStyle.Render("➤ "+label))
		} else {
			lines = append(lines, itemStyle.Render("  "+label))
		}
	}
	sections = append(sections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	sections = append(sections, inputBoxStyle.Render(model.roomInput.View()))
	sections = append(sections, menuHintStyle.Render("↑/↓ select • Enter join • type a name to create • Esc quit"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChatView() string {
	session := model.coordinator.Session()
	headerSegments := []string{
		"RoomChat",
		fmt.Sprintf("Room %s", sanitizeName(model.roomTitle)),
		fmt.Sprintf("User %s", sanitizeName(session.Username)),
	}
	header := chatHeaderStyle.Render(strings.Join(headerSegments, dividerStyle))

	var messageLines []string
	for _, entry := range model.log {
		messageLines = append(messageLines, model.renderEntry(entry, session.Username)...)
	}
	if len(messageLines) == 0 {
		messageLines = append(messageLines, systemMessageStyle.Render("No messages yet. Say hi and start the conversation."))
	}
	if model.height > chatChromeRows && len(messageLines) > model.height-chatChromeRows {
		messageLines = messageLines[len(messageLines)-(model.height-chatChromeRows):]
	}

	sections := []string{header}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}
	sections = append(sections,
		messageBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, messageLines...)),
		inputBoxStyle.Render(model.messageInput.View()),
		menuHintStyle.Render("Esc or /leave back to lobby • /image /file attach • /save /download keep last image or file • /help"),
	)
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderPickerView() string {
	picker := model.picker
	title := "Send a file"
	if picker.kind == attachImage {
		title = "Send an image"
	}
	sections := []string{appTitleStyle.Render(title), subtitleStyle.Render(picker.dir)}
	if picker.err != nil {
		sections = append(sections, errorStyle.Render(picker.err.Error()))
	}
	if notices := model.renderNotices(); notices != "" {
		sections = append(sections, notices)
	}

	var lines []string
	if len(picker.items) == 0 {
		lines = append(lines, menuHintStyle.Render("Empty directory."))
	}
	for idx, item := range picker.items {
		label := item.Name
		if item.IsDir {
			label += "/"
		} else {
			label = fmt.Sprintf("%s  %s", label, timestampStyle.Render(formatFileSize(item.Size)))
		}
		if idx == picker.cursor {
			lines = append(lines, itemSelectedStyle.Render("➤ "+label))
		} else {
			lines = append(lines, itemStyle.Render("  "+label))
		}
	}
	sections = append(sections, menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...)))
	sections = append(sections, menuHintStyle.Render("↑/↓ select • Enter open/send • Backspace up • Esc cancel"))
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderNotices() string {
	if len(model.notices) == 0 {
		return ""
	}
	lines := make([]string, 0, len(model.notices))
	for _, notice := range model.notices {
		if notice.Level == NoticeError {
			lines = append(lines, errorStyle.Render(notice.Text))
		} else {
			lines = append(lines, systemMessageStyle.Render(notice.Text))
		}
	}
	return noticeBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, lines...))
}

// renderEntry turns one log entry into display rows. Images expand to several
// rows of half blocks below the author line.
func (model *TUIModel) renderEntry(entry renderedEntry, self string) []string {
	prefix := lipgloss.JoinHorizontal(lipgloss.Left, timestampStyle.Render(formatClock(entry.At)), " ", model.renderAuthor(entry.Author, self), ": ")

	switch entry.Kind {
	case EntryImage:
		if entry.imageErr != nil {
			return []string{prefix + errorStyle.Render("[image could not be shown: "+entry.imageErr.Error()+"]")}
		}
		rows := make([]string, 0, len(entry.imageLines)+1)
		rows = append(rows, prefix+systemMessageStyle.Render("sent an image"))
		for _, line := range entry.imageLines {
			rows = append(rows, "  "+line)
		}
		return rows
	case EntryFile:
		return []string{prefix + messageBodyStyle.Render("File: ") + linkStyle.Render(entry.File.Name) + timestampStyle.Render(" "+entry.File.Link)}
	default:
		if entry.Author == "system" {
			return []string{lipgloss.JoinHorizontal(lipgloss.Left, timestampStyle.Render(formatClock(entry.At)), " ", systemMessageStyle.Render(entry.Text))}
		}
		return []string{prefix + messageBodyStyle.Render(strings.ReplaceAll(entry.Text, "\n", "\n   "))}
	}
}

func (model *TUIModel) renderAuthor(author, self string) string {
	if author == self {
		return activeUserStyle.Render(author)
	}
	return usernameStyle.Copy().Foreground(colorForUser(author)).Render(author)
}

// formatClock renders a timestamp as [HH:MM] in local time.
func formatClock(at time.Time) string {
	if at.IsZero() {
		return "[--:--]"
	}
	return "[" + at.Local().Format("15:04") + "]"
}

// color for users
func colorForUser(name string) lipgloss.Color {
	if name == "" {
		return userColorPalette[0]
	}
	var sum int
	for _, r := range name {
		sum += int(r)
	}
	return userColorPalette[sum%len(userColorPalette)]
}
