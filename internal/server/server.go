package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/notepid/twilight_chat/internal/chat"
	"github.com/notepid/twilight_chat/internal/config"
	"github.com/notepid/twilight_chat/internal/node"
	"github.com/notepid/twilight_chat/internal/user"
)

const shutdownNotice = "Server is shutting down. Please reconnect shortly."

// Authenticator checks participant credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, shortID, password string) (*user.Participant, error)
}

// Server serves the chat websocket and its operational endpoints.
type Server struct {
	cfg      config.ServerConfig
	auth     Authenticator
	deps     chat.Deps
	nodes    *node.Manager
	log      zerolog.Logger
	upgrader websocket.Upgrader

	base context.Context
	wg   sync.WaitGroup
}

// New creates a server. Sessions share deps.
func New(cfg config.ServerConfig, auth Authenticator, deps chat.Deps, nodes *node.Manager, log zerolog.Logger) *Server {
	s := &Server{
		cfg:   cfg,
		auth:  auth,
		deps:  deps,
		nodes: nodes,
		log:   log,
		base:  context.Background(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Handler builds the HTTP router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(countRequests)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", s.handleHealth)
	r.Get("/ws", s.handleWS)
	r.Get("/api/sessions", s.handleSessions)
	r.Post("/api/sessions/{node}/notice", s.handleNotice)

	return r
}

// ListenAndServe serves until ctx is cancelled, then tells every client
// the server is going away and waits for sessions to close.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.base = ctx
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.cfg.Listen).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.cfg.Listen, err)
	case <-ctx.Done():
	}

	s.nodes.Broadcast(shutdownNotice)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Error().Err(err).Msg("http shutdown")
	}
	s.nodes.DisconnectAll()
	s.wg.Wait()
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.nodes.Count(),
	})
}

// handleSessions lists connected sessions for elevated participants.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !p.Role.Elevated() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	writeJSON(w, http.StatusOK, s.nodes.ListInfo())
}

type noticeRequest struct {
	Text string `json:"text"`
}

// handleNotice delivers an operator notice to one connected session.
func (s *Server) handleNotice(w http.ResponseWriter, r *http.Request) {
	p, ok := s.authenticate(w, r)
	if !ok {
		return
	}
	if !p.Role.Elevated() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	nodeID, err := strconv.Atoi(chi.URLParam(r, "node"))
	if err != nil {
		http.Error(w, "invalid node id", http.StatusBadRequest)
		return
	}
	var req noticeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "notice text required", http.StatusBadRequest)
		return
	}

	if err := s.nodes.SendTo(nodeID, req.Text); err != nil {
		if errors.Is(err, node.ErrNodeNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		s.log.Warn().Err(err).Int("node", nodeID).Msg("notice not delivered")
		http.Error(w, "notice not delivered", http.StatusBadGateway)
		return
	}
	s.log.Info().Int("node", nodeID).Str("by", p.ShortID).Msg("notice sent")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (*user.Participant, bool) {
	shortID, password, ok := r.BasicAuth()
	if !ok {
		w.Header().Set("WWW-Authenticate", `Basic realm="twilight_chat"`)
		http.Error(w, "authentication required", http.StatusUnauthorized)
		return nil, false
	}
	p, err := s.auth.Authenticate(r.Context(), shortID, password)
	if err != nil {
		s.log.Warn().Str("short_id", shortID).Err(err).Msg("authentication failed")
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return nil, false
	}
	return p, true
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	scope := r.URL.Query().Get("scope")
	if scope == "" {
		http.Error(w, "scope is required", http.StatusBadRequest)
		return
	}
	p, ok := s.authenticate(w, r)
	if !ok {
		return
	}

	slot, ok := s.nodes.Acquire()
	if !ok {
		s.log.Warn().Str("short_id", p.ShortID).Msg("session limit reached")
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.nodes.Release(slot)
		s.log.Warn().Err(err).Msg("websocket upgrade")
		return
	}

	s.wg.Add(1)
	defer s.wg.Done()

	conn := NewConn(ws)
	n := node.NewNode(slot, conn, r.RemoteAddr)
	n.Participant = p.Profile
	n.Scope = scope
	s.nodes.Add(n)
	defer s.nodes.Remove(slot)

	s.serveSession(n, conn)
}

// serveSession runs one participant's session until the client goes away.
func (s *Server) serveSession(n *node.Node, conn *Conn) {
	log := s.log.With().Str("conn", n.ConnID).Int("node", n.ID).Int("participant", n.Participant.ID).Logger()
	log.Info().Str("scope", n.Scope).Str("remote", n.Remote).Msg("session started")

	deps := s.deps
	deps.Log = log
	deps.ConnID = n.ConnID
	ctx, cancel := context.WithCancel(s.base)
	defer cancel()

	sess := chat.NewSession(ctx, n.Participant, deps)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sess.Close(closeCtx)
		conn.Close()
		log.Info().Msg("session ended")
	}()

	snaps, err := sess.Subscribe(ctx, n.Scope)
	if err != nil {
		log.Error().Err(err).Msg("subscribe")
		conn.Write(Outbound{Type: FrameError, Message: "could not load messages"})
		return
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-conn.Done():
				cancel()
				return
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				conn.Write(Outbound{Type: FrameSnapshot, Snapshot: &snap})
			case w := <-sess.Warnings():
				conn.Write(Outbound{Type: FrameWarning, Message: w})
			}
		}
	}()

	for {
		in, err := conn.Read()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debug().Err(err).Msg("read")
			}
			return
		}
		if out, ok := HandleFrame(ctx, sess, n.Scope, in); ok {
			conn.Write(out)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
