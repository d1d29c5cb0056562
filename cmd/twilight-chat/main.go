package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/chat"
	"github.com/notepid/twilight_chat/internal/clock"
	"github.com/notepid/twilight_chat/internal/config"
	"github.com/notepid/twilight_chat/internal/db"
	"github.com/notepid/twilight_chat/internal/logging"
	"github.com/notepid/twilight_chat/internal/message"
	"github.com/notepid/twilight_chat/internal/node"
	"github.com/notepid/twilight_chat/internal/notify"
	"github.com/notepid/twilight_chat/internal/presence"
	"github.com/notepid/twilight_chat/internal/server"
	"github.com/notepid/twilight_chat/internal/user"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("twilight-chat stopped")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Paths.Data, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	database, err := db.Open(cfg.Paths.Database, log)
	if err != nil {
		return err
	}
	defer database.Close()
	log.Info().Str("path", cfg.Paths.Database).Msg("database opened")

	participants := user.NewRepo(database.DB)
	feed := message.NewFeed(log)
	messages := message.NewRepo(database.DB, feed)

	transport, closeTransport, err := newPresence(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	notifier, closeNotifier, err := newNotifier(ctx, cfg, database, log)
	if err != nil {
		return err
	}
	defer closeNotifier()

	deps := chat.Deps{
		Store:    messages,
		Feed:     feed,
		Profiles: participants,
		Presence: transport,
		LastSeen: participants,
		Notifier: notifier,
		Clock:    clock.Real(),
		Options:  chat.OptionsFromConfig(cfg),
		Log:      log,
	}

	nodes := node.NewManager(cfg.Server.MaxSessions)
	srv := server.New(cfg.Server, participants, deps, nodes, log)

	log.Info().
		Str("listen", cfg.Server.Listen).
		Int("max_sessions", cfg.Server.MaxSessions).
		Str("presence", cfg.Presence.Backend).
		Str("notify", cfg.Notify.Backend).
		Msg("twilight-chat starting")

	if err := srv.ListenAndServe(ctx); err != nil {
		return err
	}
	log.Info().Msg("shut down complete")
	return nil
}

// newPresence builds the configured presence transport.
func newPresence(ctx context.Context, cfg *config.Config, log zerolog.Logger) (presence.Transport, func(), error) {
	switch cfg.Presence.Backend {
	case "redis":
		rt, err := presence.NewRedisTransport(ctx, cfg.Presence.RedisURL, cfg.Presence.MemberTTL, clock.Real(), log)
		if err != nil {
			return nil, nil, err
		}
		return rt, func() { rt.Close() }, nil
	default:
		hub := presence.NewHub(clock.Real(), cfg.Presence.MemberTTL, log)
		go hub.Run(ctx)
		return hub, func() {}, nil
	}
}

// newNotifier builds the mention fan-out over the configured queue. With
// the asynq backend the process can also run the worker that drains the
// queue into the outbox.
func newNotifier(ctx context.Context, cfg *config.Config, database *db.DB, log zerolog.Logger) (chat.Notifier, func(), error) {
	outbox := notify.NewOutbox(database.DB)

	if cfg.Notify.Backend != "asynq" {
		return notify.NewFanOut(outbox, cfg.Notify.ChannelHint, log), func() {}, nil
	}

	enq, err := notify.NewAsynqEnqueuer(cfg.Notify.RedisURL, cfg.Notify.Queue, cfg.Notify.MaxRetry)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Notify.RunWorker {
		worker, err := notify.NewWorker(cfg.Notify.RedisURL, cfg.Notify.Queue, outbox, log)
		if err != nil {
			enq.Close()
			return nil, nil, err
		}
		go func() {
			if err := worker.Run(ctx); err != nil {
				log.Error().Err(err).Msg("notification worker")
			}
		}()
	}
	return notify.NewFanOut(enq, cfg.Notify.ChannelHint, log), func() { enq.Close() }, nil
}
