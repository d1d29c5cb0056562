package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_chat/internal/admin/app"
	"github.com/notepid/twilight_chat/internal/message"
)

const messagesPage = 50

type messagesModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state messagesState
	list  list.Model
	err   error

	selectedScope string
	limit         int
	loaded        map[string]*message.Message

	selected  *message.Message
	msgHeader string
	msgBody   string

	form          *huh.Form
	confirmDelete bool
}

type messagesState int

const (
	messagesStateScopes messagesState = iota
	messagesStateList
	messagesStateDetail
	messagesStateDelete
)

type msgItem struct {
	key   string
	title string
	desc  string
}

func (i msgItem) Title() string       { return i.title }
func (i msgItem) Description() string { return i.desc }
func (i msgItem) FilterValue() string { return i.title }

func newMessagesModel(a *app.App) *messagesModel {
	m := &messagesModel{app: a, state: messagesStateScopes, limit: messagesPage}
	m.reloadScopes()
	return m
}

func (m *messagesModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *messagesModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = messagesStateScopes
				m.reloadScopes()
			}
		}
		return nil
	}

	if m.state == messagesStateDelete {
		return m.updateDelete(msg)
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == messagesStateScopes {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		case "m":
			if m.state == messagesStateList {
				m.limit += messagesPage
				m.reloadMessages()
				return nil
			}
		case "d":
			if m.state == messagesStateDetail && m.selected != nil && !m.selected.Deleted() {
				m.startDelete()
				return nil
			}
		}
	}

	if m.state == messagesStateDetail {
		return nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(msgItem)
			if !ok {
				return cmd
			}
			switch m.state {
			case messagesStateScopes:
				m.selectedScope = it.key
				m.limit = messagesPage
				m.state = messagesStateList
				m.reloadMessages()
				return nil
			case messagesStateList:
				m.selected = m.loaded[it.key]
				m.state = messagesStateDetail
				m.loadMessageDetail()
				return nil
			}
		}
	}

	return cmd
}

func (m *messagesModel) updateDelete(msg tea.Msg) tea.Cmd {
	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
		m.form = nil
		m.state = messagesStateDetail
		return nil
	}

	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State != huh.StateCompleted {
		return cmd
	}

	m.form = nil
	if m.confirmDelete {
		ctx, cancel := dbContext(m.app)
		defer cancel()
		if err := m.app.Messages.SoftDelete(ctx, m.selected.ID); err != nil {
			m.err = err
			return nil
		}
		m.state = messagesStateList
		m.reloadMessages()
		return nil
	}
	m.state = messagesStateDetail
	return nil
}

func (m *messagesModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Messages error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case messagesStateScopes:
		m.list.Title = "Scopes"
		return m.list.View() + "\n(q to quit, enter to select)"
	case messagesStateList:
		m.list.Title = fmt.Sprintf("Messages in %s (newest %d)", scopeName(m.selectedScope), m.limit)
		return m.list.View() + "\n(m load more, esc back)"
	case messagesStateDetail:
		help := "(d delete, esc back)"
		if m.selected != nil && m.selected.Deleted() {
			help = "(esc back)"
		}
		return m.msgHeader + "\n\n" + m.msgBody + "\n\n" + help
	case messagesStateDelete:
		return m.form.View() + "\n\n(esc to cancel)"
	default:
		return "Messages"
	}
}

func scopeName(id string) string {
	if id == message.GlobalScope {
		return "(global)"
	}
	return id
}

func (m *messagesModel) reloadScopes() {
	ctx, cancel := dbContext(m.app)
	defer cancel()
	scopes, err := m.app.Messages.ListScopes(ctx)
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(scopes))
	for _, s := range scopes {
		desc := fmt.Sprintf("total %d • deleted %d • last %s",
			s.Total, s.Deleted, s.LastActivity.Local().Format("2006-01-02 15:04"))
		items = append(items, msgItem{key: s.ScopeID, title: scopeName(s.ScopeID), desc: desc})
	}

	m.list = newPlainList(items, m.width, m.height)
}

func (m *messagesModel) reloadMessages() {
	ctx, cancel := dbContext(m.app)
	defer cancel()
	msgs, err := m.app.Messages.List(ctx, message.Filter{
		Scope:          m.selectedScope,
		Limit:          m.limit,
		IncludeDeleted: true,
	})
	if err != nil {
		m.err = err
		return
	}

	m.loaded = make(map[string]*message.Message, len(msgs))
	items := make([]list.Item, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		msg := msgs[i]
		m.loaded[msg.ID] = msg

		title := firstLine(msg.Content, 60)
		var tags []string
		if msg.IsPrivate {
			tags = append(tags, "private")
		}
		if msg.Deleted() {
			tags = append(tags, "deleted")
		}
		desc := fmt.Sprintf("%s • %s", senderName(msg), msg.CreatedAt.Local().Format("2006-01-02 15:04"))
		if len(tags) > 0 {
			desc += " • " + strings.Join(tags, ", ")
		}
		items = append(items, msgItem{key: msg.ID, title: title, desc: desc})
	}

	m.list = newPlainList(items, m.width, m.height)
}

func (m *messagesModel) loadMessageDetail() {
	msg := m.selected
	if msg == nil {
		m.err = message.ErrNotFound
		return
	}

	visibility := "public"
	if msg.IsPrivate {
		visibility = privStyle.Render("private")
	}
	header := fmt.Sprintf("ID: %s\nScope: %s\nFrom: %s\nDate: %s\nVisibility: %s\nMentions: %s\nRead by: %s",
		msg.ID, scopeName(msg.ScopeID), senderName(msg),
		msg.CreatedAt.Local().Format("2006-01-02 15:04:05"), visibility,
		m.names(msg.Mentions), m.names(msg.ReadBy),
	)
	if msg.DeletedAt != nil {
		header += "\n" + errStyle.Render("Deleted "+msg.DeletedAt.Local().Format("2006-01-02 15:04"))
	}
	m.msgHeader = titleStyle.Render("Message") + "\n" + header
	m.msgBody = msg.Content
}

// names resolves participant ids for display, falling back to the id.
func (m *messagesModel) names(ids []int) string {
	if len(ids) == 0 {
		return dimStyle.Render("none")
	}
	ctx, cancel := dbContext(m.app)
	defer cancel()
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		p, err := m.app.Participants.GetProfile(ctx, id)
		if err != nil {
			out = append(out, fmt.Sprintf("#%d", id))
			continue
		}
		out = append(out, p.DisplayName)
	}
	return strings.Join(out, ", ")
}

func (m *messagesModel) startDelete() {
	m.state = messagesStateDelete
	m.confirmDelete = false
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Delete this message?").
				Description("It disappears for every participant.").
				Value(&m.confirmDelete),
		),
	)
}

func (m *messagesModel) back() {
	switch m.state {
	case messagesStateScopes:
		m.Done = true
	case messagesStateList:
		m.state = messagesStateScopes
		m.reloadScopes()
	case messagesStateDetail:
		m.state = messagesStateList
		m.selected = nil
		m.reloadMessages()
	}
}

func senderName(msg *message.Message) string {
	if msg.Sender == nil {
		return fmt.Sprintf("#%d", msg.SenderID)
	}
	return msg.Sender.DisplayName
}

func firstLine(s string, max int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

func newPlainList(items []list.Item, w, h int) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), w, h-2)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowHelp(true)
	return l
}
