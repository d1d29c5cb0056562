package ui

import (
	"fmt"
	"strconv"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"

	"github.com/notepid/twilight_chat/internal/admin/app"
	"github.com/notepid/twilight_chat/internal/notify"
)

const outboxLimit = 200

type outboxModel struct {
	app *app.App

	width  int
	height int

	Done bool

	list    list.Model
	entries map[int]notify.Entry
	err     error

	detail *notify.Entry
}

func newOutboxModel(a *app.App) *outboxModel {
	m := &outboxModel{app: a}
	m.reload()
	return m
}

func (m *outboxModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *outboxModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "esc", "q", "enter":
				m.err = nil
				m.detail = nil
				m.reload()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q":
			if m.detail == nil {
				m.Done = true
				return nil
			}
		case "esc":
			if m.detail != nil {
				m.detail = nil
				return nil
			}
			m.Done = true
			return nil
		case "r":
			m.reload()
			return nil
		case "x":
			if m.detail != nil && m.detail.DeliveredAt == nil {
				ctx, cancel := dbContext(m.app)
				defer cancel()
				if err := m.app.Outbox.MarkDelivered(ctx, m.detail.ID); err != nil {
					m.err = err
					return nil
				}
				m.detail = nil
				m.reload()
				return nil
			}
		}
	}

	if m.detail != nil {
		return nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		if it, ok := m.list.SelectedItem().(msgItem); ok {
			id, _ := strconv.Atoi(it.key)
			if e, ok := m.entries[id]; ok {
				m.detail = &e
			}
			return nil
		}
	}
	return cmd
}

func (m *outboxModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Outbox error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	if e := m.detail; e != nil {
		status := dimStyle.Render("pending")
		help := "(x mark delivered, esc back)"
		if e.DeliveredAt != nil {
			status = "delivered " + e.DeliveredAt.Local().Format("2006-01-02 15:04")
			help = "(esc back)"
		}
		return titleStyle.Render(e.Request.Title) + "\n" +
			fmt.Sprintf("Recipient: #%d\nChannel: %s\nQueued: %s\nStatus: %s\n\n%s\n\n%s",
				e.Request.RecipientID, e.Request.ChannelHint,
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"), status, e.Request.Body, help)
	}

	m.list.Title = "Notification Outbox"
	return m.list.View() + "\n(r refresh, enter details, q quit)"
}

func (m *outboxModel) reload() {
	ctx, cancel := dbContext(m.app)
	defer cancel()
	entries, err := m.app.Outbox.Recent(ctx, outboxLimit)
	if err != nil {
		m.err = err
		return
	}

	m.entries = make(map[int]notify.Entry, len(entries))
	items := make([]list.Item, 0, len(entries))
	for _, e := range entries {
		m.entries[e.ID] = e
		state := "pending"
		if e.DeliveredAt != nil {
			state = "delivered"
		}
		desc := fmt.Sprintf("to #%d • %s • %s", e.Request.RecipientID, state, e.CreatedAt.Local().Format("2006-01-02 15:04"))
		items = append(items, msgItem{key: strconv.Itoa(e.ID), title: e.Request.Title, desc: desc})
	}

	m.list = newPlainList(items, m.width, m.height)
}
