package ui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"

	"github.com/notepid/twilight_chat/internal/admin/app"
)

type screen int

const (
	screenHome screen = iota
	screenSettings
	screenParticipants
	screenMessages
	screenOutbox
)

type rootModel struct {
	app *app.App

	width  int
	height int

	active screen

	homeList list.Model
	err      error

	settings     *settingsModel
	participants *participantsModel
	messages     *messagesModel
	outbox       *outboxModel
}

type menuItem struct {
	title string
	desc  string
	to    screen
}

func (m menuItem) Title() string       { return m.title }
func (m menuItem) Description() string { return m.desc }
func (m menuItem) FilterValue() string { return m.title }

var (
	titleStyle = lipgloss.NewStyle().Bold(true)
	errStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	privStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true)
)

func NewRootModel(a *app.App) tea.Model {
	items := []list.Item{
		menuItem{title: "Server Settings", desc: "Session limit, page size, log level", to: screenSettings},
		menuItem{title: "Participants", desc: "Manage accounts and roles", to: screenParticipants},
		menuItem{title: "Messages", desc: "Browse scopes, inspect and remove messages", to: screenMessages},
		menuItem{title: "Notification Outbox", desc: "Queued mention notifications", to: screenOutbox},
		menuItem{title: "Quit", desc: "Exit", to: -1},
	}

	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Twilight Chat Admin"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	return &rootModel{
		app:      a,
		active:   screenHome,
		homeList: l,
	}
}

// dbContext bounds a single UI-triggered database call.
func dbContext(a *app.App) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), a.Timeout)
}

func (m *rootModel) Init() tea.Cmd {
	return nil
}

func (m *rootModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.homeList.SetSize(msg.Width, msg.Height-2)
		if m.settings != nil {
			m.settings.SetSize(msg.Width, msg.Height)
		}
		if m.participants != nil {
			m.participants.SetSize(msg.Width, msg.Height)
		}
		if m.messages != nil {
			m.messages.SetSize(msg.Width, msg.Height)
		}
		if m.outbox != nil {
			m.outbox.SetSize(msg.Width, msg.Height)
		}
		return m, nil
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
	}

	switch m.active {
	case screenHome:
		return m.updateHome(msg)
	case screenSettings:
		m.activate(screenSettings)
		cmd := m.settings.Update(msg)
		if m.settings.Done {
			m.active = screenHome
			m.settings = nil
		}
		return m, cmd
	case screenParticipants:
		m.activate(screenParticipants)
		cmd := m.participants.Update(msg)
		if m.participants.Done {
			m.active = screenHome
			m.participants = nil
		}
		return m, cmd
	case screenMessages:
		m.activate(screenMessages)
		cmd := m.messages.Update(msg)
		if m.messages.Done {
			m.active = screenHome
			m.messages = nil
		}
		return m, cmd
	case screenOutbox:
		m.activate(screenOutbox)
		cmd := m.outbox.Update(msg)
		if m.outbox.Done {
			m.active = screenHome
			m.outbox = nil
		}
		return m, cmd
	default:
		return m, nil
	}
}

func (m *rootModel) updateHome(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	m.homeList, cmd = m.homeList.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "enter":
			if it, ok := m.homeList.SelectedItem().(menuItem); ok {
				if it.to == -1 {
					return m, tea.Quit
				}
				m.activate(it.to)
				return m, nil
			}
		}
	}

	return m, cmd
}

// activate switches to s, building its model on first use.
func (m *rootModel) activate(s screen) {
	m.active = s

	switch s {
	case screenSettings:
		if m.settings == nil {
			m.settings = newSettingsModel(m.app)
			m.settings.SetSize(m.width, m.height)
		}
	case screenParticipants:
		if m.participants == nil {
			m.participants = newParticipantsModel(m.app)
			m.participants.SetSize(m.width, m.height)
		}
	case screenMessages:
		if m.messages == nil {
			m.messages = newMessagesModel(m.app)
			m.messages.SetSize(m.width, m.height)
		}
	case screenOutbox:
		if m.outbox == nil {
			m.outbox = newOutboxModel(m.app)
			m.outbox.SetSize(m.width, m.height)
		}
	}
}

func (m *rootModel) View() string {
	if m.err != nil {
		return errStyle.Render("Error: ") + m.err.Error()
	}

	switch m.active {
	case screenHome:
		return m.homeList.View()
	case screenSettings:
		if m.settings == nil {
			return "Loading settings..."
		}
		return m.settings.View()
	case screenParticipants:
		if m.participants == nil {
			return "Loading participants..."
		}
		return m.participants.View()
	case screenMessages:
		if m.messages == nil {
			return "Loading messages..."
		}
		return m.messages.View()
	case screenOutbox:
		if m.outbox == nil {
			return "Loading outbox..."
		}
		return m.outbox.View()
	default:
		return titleStyle.Render("Unknown screen") + "\n" + fmt.Sprint(m.active)
	}
}
