package ui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_chat/internal/admin/app"
	"github.com/notepid/twilight_chat/internal/user"
)

type participantsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	state participantsState

	list list.Model
	err  error

	selected *user.Participant

	form *huh.Form

	createName     string
	createShortID  string
	createPassword string
	createRole     user.Role
	createSave     bool

	editName string
	editSave bool

	newPassword string
	pwConfirm   string
	pwSave      bool

	roleChoice user.Role
	roleSave   bool

	activeChoice bool
	activeSave   bool
}

type participantsState int

const (
	participantsStateList participantsState = iota
	participantsStateDetail
	participantsStateCreate
	participantsStateEditName
	participantsStateResetPassword
	participantsStateSetRole
	participantsStateSetActive
)

type participantItem struct {
	id    int
	title string
	desc  string
	kind  string
}

func (i participantItem) Title() string       { return i.title }
func (i participantItem) Description() string { return i.desc }
func (i participantItem) FilterValue() string { return i.title }

var roleOptions = []huh.Option[user.Role]{
	huh.NewOption("Member", user.RoleMember),
	huh.NewOption("Coordinator", user.RoleCoordinator),
	huh.NewOption("Admin (sees private messages)", user.RoleAdmin),
	huh.NewOption("Super admin (sees private messages)", user.RoleSuperAdmin),
}

func newParticipantsModel(a *app.App) *participantsModel {
	m := &participantsModel{app: a, state: participantsStateList}
	m.reloadList()
	return m
}

func (m *participantsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *participantsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = participantsStateList
				m.form = nil
				m.selected = nil
				m.reloadList()
			}
		}
		return nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			if m.state == participantsStateList {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		}
	}

	switch m.state {
	case participantsStateList:
		return m.updateList(msg)
	case participantsStateDetail:
		return m.updateDetail(msg)
	default:
		return m.updateForm(msg)
	}
}

func (m *participantsModel) updateList(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(participantItem)
			if !ok {
				return cmd
			}
			if it.kind == "create" {
				m.startCreate()
				return nil
			}

			ctx, cancel := dbContext(m.app)
			defer cancel()
			p, err := m.app.Participants.GetByID(ctx, it.id)
			if err != nil {
				m.err = err
				return nil
			}
			m.selected = p
			m.state = participantsStateDetail
			m.list = newActionList(m.width, m.height)
			return nil
		}
	}

	return cmd
}

func (m *participantsModel) updateDetail(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "enter" {
			it, ok := m.list.SelectedItem().(participantItem)
			if !ok {
				return cmd
			}
			switch it.kind {
			case "edit_name":
				m.startEditName()
			case "set_role":
				m.startSetRole()
			case "set_active":
				m.startSetActive()
			case "reset_password":
				m.startResetPassword()
			case "back":
				m.back()
			}
			return nil
		}
	}

	return cmd
}

func (m *participantsModel) updateForm(msg tea.Msg) tea.Cmd {
	if m.form == nil {
		m.err = fmt.Errorf("internal error: form not initialized")
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

	ctx, cancel := dbContext(m.app)
	defer cancel()

	var err error
	switch m.state {
	case participantsStateCreate:
		if m.createSave {
			if m.app.Participants.Exists(ctx, m.createShortID) {
				m.err = fmt.Errorf("short id already exists")
				return nil
			}
			_, err = m.app.Participants.Create(ctx, m.createName, m.createShortID, m.createPassword, m.createRole)
		}
		if err != nil {
			m.err = err
			return nil
		}
		m.form = nil
		m.state = participantsStateList
		m.reloadList()
		return nil
	case participantsStateEditName:
		if m.editSave {
			err = m.app.Participants.UpdateProfile(ctx, m.selected.ID, m.editName)
		}
	case participantsStateResetPassword:
		if m.pwSave {
			err = m.app.Participants.UpdatePassword(ctx, m.selected.ID, m.newPassword)
		}
	case participantsStateSetRole:
		if m.roleSave {
			err = m.app.Participants.UpdateRole(ctx, m.selected.ID, m.roleChoice)
		}
	case participantsStateSetActive:
		if m.activeSave {
			err = m.app.Participants.SetActive(ctx, m.selected.ID, m.activeChoice)
		}
	}
	if err != nil {
		m.err = err
		return nil
	}
	m.refreshSelected()
	m.form = nil
	m.state = participantsStateDetail
	m.list = newActionList(m.width, m.height)
	return nil
}

func (m *participantsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Participants error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case participantsStateList:
		m.list.Title = "Participants"
		return m.list.View() + "\n(q to quit, enter to select)"
	case participantsStateDetail:
		if m.selected == nil {
			return "No participant selected\n\n(esc to go back)"
		}
		p := m.selected
		header := titleStyle.Render(fmt.Sprintf("%s (@%s)", p.DisplayName, p.ShortID)) + "\n"
		lastSeen := "never"
		if p.LastSeenAt != nil {
			lastSeen = p.LastSeenAt.Local().Format("2006-01-02 15:04")
		}
		meta := fmt.Sprintf("ID: %d\nRole: %s\nActive: %v\nLast seen: %s\nCreated: %s\n\n",
			p.ID, p.Role, p.Active, lastSeen, p.CreatedAt.Local().Format("2006-01-02"),
		)
		m.list.Title = "Actions"
		return header + meta + m.list.View() + "\n(esc to go back)"
	default:
		return m.form.View() + "\n\n(esc to go back)"
	}
}

func (m *participantsModel) reloadList() {
	ctx, cancel := dbContext(m.app)
	defer cancel()
	participants, err := m.app.Participants.List(ctx)
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(participants)+1)
	items = append(items, participantItem{title: "+ Create participant", desc: "Add a new account", kind: "create"})
	for _, p := range participants {
		desc := fmt.Sprintf("@%s • %s", p.ShortID, p.Role)
		if !p.Active {
			desc += " • disabled"
		}
		items = append(items, participantItem{id: p.ID, title: p.DisplayName, desc: desc, kind: "participant"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	m.list.Title = "Participants"
}

func newActionList(w, h int) list.Model {
	items := []list.Item{
		participantItem{title: "Edit display name", desc: "Name shown in chat and mentions", kind: "edit_name"},
		participantItem{title: "Set role", desc: "Member/Coordinator/Admin/Super admin", kind: "set_role"},
		participantItem{title: "Enable or disable", desc: "Disabled accounts cannot connect", kind: "set_active"},
		participantItem{title: "Reset password", desc: "Set a new password", kind: "reset_password"},
		participantItem{title: "Back", desc: "Return to participant list", kind: "back"},
	}
	l := list.New(items, list.NewDefaultDelegate(), w, h-8)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)
	return l
}

func (m *participantsModel) startCreate() {
	m.state = participantsStateCreate
	m.createName = ""
	m.createShortID = ""
	m.createPassword = ""
	m.createRole = user.RoleMember
	m.createSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Display name").Value(&m.createName).Validate(nonEmpty("display name")),
			huh.NewInput().Title("Short id").Description("Used to sign in").Value(&m.createShortID).Validate(nonEmpty("short id")),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&m.createPassword).Validate(nonEmpty("password")),
			huh.NewSelect[user.Role]().Title("Role").Options(roleOptions...).Value(&m.createRole),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Create participant?").Value(&m.createSave),
		),
	)
}

func (m *participantsModel) startEditName() {
	m.state = participantsStateEditName
	m.editName = m.selected.DisplayName
	m.editSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Display name").Value(&m.editName).Validate(nonEmpty("display name")),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save changes?").Value(&m.editSave),
		),
	)
}

func (m *participantsModel) startResetPassword() {
	m.state = participantsStateResetPassword
	m.newPassword = ""
	m.pwConfirm = ""
	m.pwSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("New password").EchoMode(huh.EchoModePassword).Value(&m.newPassword).Validate(nonEmpty("password")),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&m.pwConfirm).Validate(func(s string) error {
				if s != m.newPassword {
					return fmt.Errorf("passwords do not match")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Reset password?").Value(&m.pwSave),
		),
	)
}

func (m *participantsModel) startSetRole() {
	m.state = participantsStateSetRole
	m.roleChoice = m.selected.Role
	m.roleSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[user.Role]().Title("Role").Options(roleOptions...).Value(&m.roleChoice),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save role?").Value(&m.roleSave),
		),
	)
}

func (m *participantsModel) startSetActive() {
	m.state = participantsStateSetActive
	m.activeChoice = m.selected.Active
	m.activeSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().Title("Account active").Value(&m.activeChoice),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save?").Value(&m.activeSave),
		),
	)
}

func (m *participantsModel) back() {
	switch m.state {
	case participantsStateList:
		m.Done = true
	case participantsStateDetail:
		m.state = participantsStateList
		m.selected = nil
		m.form = nil
		m.reloadList()
	default:
		m.state = participantsStateDetail
		m.form = nil
		m.list = newActionList(m.width, m.height)
	}
}

func (m *participantsModel) refreshSelected() {
	if m.selected == nil {
		return
	}
	ctx, cancel := dbContext(m.app)
	defer cancel()
	p, err := m.app.Participants.GetByID(ctx, m.selected.ID)
	if err == nil {
		m.selected = p
	}
}
