package app

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/config"
	"github.com/notepid/twilight_chat/internal/db"
	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/notify"
	"github.com/notepid/twilight_chat/internal/user"
)

type App struct {
	ConfigPath string
	Config     *config.Config
	DBPath     string
	DB         *db.DB

	Participants *user.Repo
	Messages     *message.Repo
	Outbox       *notify.Outbox

	// Timeout bounds each database call made from the UI.
	Timeout time.Duration
}

func New(configPath string) (*App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	if err := os.MkdirAll(cfg.Paths.Data, 0755); err != nil {
		return nil, nil, fmt.Errorf("create data directory: %w", err)
	}

	// The TUI owns the terminal, so database logging is discarded.
	database, err := db.Open(cfg.Paths.Database, zerolog.Nop())
	if err != nil {
		return nil, nil, err
	}

	a := &App{
		ConfigPath:   configPath,
		Config:       cfg,
		DBPath:       cfg.Paths.Database,
		DB:           database,
		Participants: user.NewRepo(database.DB),
		Messages:     message.NewRepo(database.DB, nil),
		Outbox:       notify.NewOutbox(database.DB),
		Timeout:      5 * time.Second,
	}

	cleanup := func() {
		_ = database.Close()
	}

	return a, cleanup, nil
}
