// Package remoteserver exposes the agent loop over HTTP with per-session
// SSE streaming. It is the multi-session sibling of a local single-session
// run: each sessionId owns its own conversation, sandbox root, and logger,
// and the busy flag serializes turns within a session.
package remoteserver

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/etjones22/workshop/internal/agentloop"
	"github.com/etjones22/workshop/internal/chatprovider"
	"github.com/etjones22/workshop/internal/convo"
	"github.com/etjones22/workshop/internal/sandbox"
	"github.com/etjones22/workshop/internal/sessionlog"
)

// ToolsFactory builds the per-session tool catalog bound to root. Injected
// so tests can avoid wiring real web/doc tools.
type ToolsFactory func(root sandbox.Root) []agentloop.Tool

// Config wires the server to its collaborators.
type Config struct {
	Client       *chatprovider.Client
	Model        string
	MaxSteps     int
	BaseDir      string
	Token        string
	AutoApprove  bool
	SystemPrompt string
	Tools        ToolsFactory
	// Now lets tests supply a deterministic clock; defaults to time.Now.
	Now func() time.Time
}

type sessionRecord struct {
	mu     sync.Mutex
	busy   bool
	userID string
	root   sandbox.Root
	conv   *convo.Conversation
	loop   *agentloop.Loop
	logger *sessionlog.Logger
}

// Server is the HTTP surface: /health, /session, /reset, and /chat.
type Server struct {
	cfg Config
	mux *http.ServeMux

	mu       sync.Mutex
	sessions map[string]*sessionRecord
}

// New builds a Server with all routes registered.
func New(cfg Config) *Server {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = 12
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = "You are a helpful local assistant with sandboxed filesystem and web tools."
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux(), sessions: make(map[string]*sessionRecord)}
	s.registerRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /session", s.auth(s.handleCreateSession))
	s.mux.HandleFunc("POST /reset", s.auth(s.handleReset))
	s.mux.HandleFunc("POST /chat", s.auth(s.handleChat))
}

// --- Auth ---

func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Token == "" {
			next(w, r)
			return
		}
		const prefix = "Bearer "
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimPrefix(header, prefix)), []byte(s.cfg.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing bearer token")
			return
		}
		next(w, r)
	}
}

// --- Health ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Session ---

type createSessionRequest struct {
	UserID string `json:"userId"`
}

type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	_ = decodeJSON(r, &req)

	userID := sanitizeUserID(firstNonEmpty(req.UserID, r.Header.Get("X-User-Id")))
	_, id, err := s.newSession(userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: id})
}

// --- Reset ---

type resetRequest struct {
	SessionID string `json:"sessionId"`
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rec, ok := s.lookup(req.SessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown sessionId")
		return
	}

	rec.mu.Lock()
	rec.conv.Reset(s.cfg.SystemPrompt)
	rec.mu.Unlock()

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Chat ---

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	var rec *sessionRecord
	var isNew bool
	var sessionID string

	if req.SessionID != "" {
		var ok bool
		rec, ok = s.lookup(req.SessionID)
		if !ok {
			writeError(w, http.StatusNotFound, "unknown sessionId")
			return
		}
		sessionID = req.SessionID
	} else {
		userID := sanitizeUserID(firstNonEmpty(req.UserID, r.Header.Get("X-User-Id")))
		var err error
		rec, sessionID, err = s.newSession(userID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		isNew = true
	}

	rec.mu.Lock()
	if rec.busy {
		rec.mu.Unlock()
		writeError(w, http.StatusConflict, "session is busy")
		return
	}
	rec.busy = true
	rec.mu.Unlock()
	defer func() {
		rec.mu.Lock()
		rec.busy = false
		rec.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	start := s.cfg.Now()
	log.Printf("remoteserver: chat start user=%s session=%s chars=%d tokens~=%d message=%q",
		rec.userID, sessionID, len(req.Message), approxTokens(req.Message), truncate(req.Message, 200))

	enc := &sseEncoder{w: w, flusher: flusher}
	if isNew {
		enc.send("session", map[string]string{"type": "session", "sessionId": sessionID})
	}

	ctx := r.Context()

	var outChars int
	onToken := func(tok string) {
		outChars += len(tok)
		enc.send("token", map[string]string{"type": "token", "token": tok})
	}
	onAgent := func(name, content string) {
		enc.send("agent", map[string]string{"type": "agent", "name": name, "content": content})
	}

	rec.loop = s.loopFor(rec, onToken, onAgent)

	text, err := rec.loop.Turn(ctx, rec.conv, req.Message)
	wall := s.cfg.Now().Sub(start)

	if ctx.Err() != nil {
		log.Printf("remoteserver: chat cancelled user=%s session=%s wall=%s", rec.userID, sessionID, wall)
		return
	}
	if err != nil {
		enc.send("error", map[string]string{"type": "error", "message": err.Error()})
		log.Printf("remoteserver: chat error user=%s session=%s err=%v wall=%s", rec.userID, sessionID, err, wall)
		return
	}

	if outChars == 0 && text != "" {
		outChars = len(text)
	}
	enc.send("done", map[string]string{"type": "done"})
	log.Printf("remoteserver: chat done user=%s session=%s inTokens~=%d outTokens~=%d chars=%d wall=%s",
		rec.userID, sessionID, approxTokens(req.Message), approxTokens(text), len(req.Message)+outChars, wall)
}

func (s *Server) loopFor(rec *sessionRecord, onToken func(string), onAgent func(string, string)) *agentloop.Loop {
	var confirm func(string) bool
	if !s.cfg.AutoApprove {
		confirm = func(string) bool { return false }
	}
	return agentloop.New(agentloop.Config{
		Client:      s.cfg.Client,
		Model:       s.cfg.Model,
		MaxSteps:    s.cfg.MaxSteps,
		Tools:       s.cfg.Tools(rec.root),
		OnToken:     onToken,
		OnAgent:     onAgent,
		Confirm:     confirm,
		AutoApprove: s.cfg.AutoApprove,
		Logger:      rec.logger,
		Now:         s.cfg.Now,
	})
}

func (s *Server) newSession(userID string) (*sessionRecord, string, error) {
	root, err := sandbox.EnsureRoot(fmt.Sprintf("%s/workspaces/%s", s.cfg.BaseDir, userID))
	if err != nil {
		return nil, "", fmt.Errorf("remoteserver: ensure workspace root: %w", err)
	}

	logger, err := sessionlog.Open(s.cfg.BaseDir, s.cfg.Now().UTC().Format("20060102T150405.000000000Z"))
	if err != nil {
		return nil, "", fmt.Errorf("remoteserver: open session log: %w", err)
	}

	id := uuid.NewString()
	rec := &sessionRecord{
		userID: userID,
		root:   root,
		conv:   convo.NewConversation(s.cfg.SystemPrompt),
		logger: logger,
	}

	s.mu.Lock()
	s.sessions[id] = rec
	s.mu.Unlock()

	return rec, id, nil
}

func (s *Server) lookup(sessionID string) (*sessionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[sessionID]
	return rec, ok
}

// --- SSE encoding ---

type sseEncoder struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (e *sseEncoder) send(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(e.w, "data: %s\n\n", b)
	e.flusher.Flush()
}

// --- helpers ---

var invalidUserIDChar = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// sanitizeUserID restricts a user id to [A-Za-z0-9_-], truncates it to 64
// characters, and defaults a blank result to "default".
func sanitizeUserID(raw string) string {
	cleaned := invalidUserIDChar.ReplaceAllString(raw, "_")
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	if cleaned == "" {
		return "default"
	}
	return cleaned
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func approxTokens(s string) int {
	if s == "" {
		return 0
	}
	return (len(s) + 3) / 4
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("remoteserver: error encoding JSON response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}
