package ui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_chat/internal/admin/app"
	"github.com/notepid/twilight_chat/internal/config"
)

type settingsModel struct {
	app *app.App

	width  int
	height int

	Done bool

	form *huh.Form
	err  error

	maxSessions string
	pageSize    string
	heartbeat   string
	logLevel    string
	save        bool
}

func newSettingsModel(a *app.App) *settingsModel {
	cfg := a.Config
	m := &settingsModel{
		app:         a,
		maxSessions: strconv.Itoa(cfg.Server.MaxSessions),
		pageSize:    strconv.Itoa(cfg.Chat.PageSize),
		heartbeat:   cfg.Presence.Heartbeat.String(),
		logLevel:    cfg.Log.Level,
	}
	m.form = buildSettingsForm(m)
	return m
}

func buildSettingsForm(m *settingsModel) *huh.Form {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Max sessions").Value(&m.maxSessions).Validate(validIntGreaterThan("max sessions", 0)),
			huh.NewInput().Title("Message page size").Value(&m.pageSize).Validate(validIntGreaterThan("page size", 0)),
			huh.NewInput().Title("Presence heartbeat").Description("e.g. 30s").Value(&m.heartbeat).Validate(validDuration("heartbeat")),
			huh.NewSelect[string]().Title("Log level").Options(
				huh.NewOption("Debug", "debug"),
				huh.NewOption("Info", "info"),
				huh.NewOption("Warn", "warn"),
				huh.NewOption("Error", "error"),
			).Value(&m.logLevel),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save changes?").Description("The server picks them up on restart.").Value(&m.save),
		),
	)
}

func (m *settingsModel) SetSize(w, h int) {
	m.width, m.height = w, h
}

func (m *settingsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		switch msg := msg.(type) {
		case tea.KeyMsg:
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.Done = true
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "esc" {
		m.Done = true
		return nil
	}

	var cmd tea.Cmd
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f

	if m.form.State == huh.StateCompleted {
		if m.save {
			if err := m.apply(); err != nil {
				m.err = err
				return nil
			}
		}
		m.Done = true
		return nil
	}

	return cmd
}

// edited returns a copy of the config carrying the form's values.
func (m *settingsModel) edited() (config.Config, error) {
	next := *m.app.Config
	var err error
	if next.Server.MaxSessions, err = strconv.Atoi(strings.TrimSpace(m.maxSessions)); err != nil {
		return next, fmt.Errorf("max sessions: %w", err)
	}
	if next.Chat.PageSize, err = strconv.Atoi(strings.TrimSpace(m.pageSize)); err != nil {
		return next, fmt.Errorf("page size: %w", err)
	}
	if next.Presence.Heartbeat, err = time.ParseDuration(strings.TrimSpace(m.heartbeat)); err != nil {
		return next, fmt.Errorf("heartbeat: %w", err)
	}
	next.Log.Level = m.logLevel
	return next, nil
}

// apply writes the edited values to the config file. The in-memory config
// is only replaced once the file is saved.
func (m *settingsModel) apply() error {
	next, err := m.edited()
	if err != nil {
		return err
	}
	if err := next.Save(m.app.ConfigPath); err != nil {
		return err
	}
	*m.app.Config = next
	return nil
}

func (m *settingsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Settings error: %v\n\nPress Enter/Esc to go back.", m.err)
	}
	return m.form.View() + "\n\n(esc to go back)"
}

func nonEmpty(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s cannot be empty", field)
		}
		return nil
	}
}

func validIntGreaterThan(field string, min int) func(string) error {
	return func(s string) error {
		v, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a number", field)
		}
		if v <= min {
			return fmt.Errorf("%s must be > %d", field, min)
		}
		return nil
	}
}

func validDuration(field string) func(string) error {
	return func(s string) error {
		d, err := time.ParseDuration(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("%s must be a duration like 30s", field)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", field)
		}
		return nil
	}
}
