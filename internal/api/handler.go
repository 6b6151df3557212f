package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/RichardoC/goblin/internal/chat"
	"github.com/RichardoC/goblin/internal/db"
	"github.com/RichardoC/goblin/internal/llm"
	"github.com/RichardoC/goblin/internal/models"
	"github.com/RichardoC/goblin/internal/persona"
	"github.com/RichardoC/goblin/internal/transcript"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// TranscriptStore archives saved sessions.
type TranscriptStore interface {
	SaveTranscript(tr models.Transcript) error
	GetTranscripts() ([]models.Transcript, error)
	GetTranscript(id string) (*models.Transcript, error)
	SearchTranscripts(query string, limit int) ([]models.TranscriptMatch, error)
}

// Defaults apply to sessions started without explicit parameters.
type Defaults struct {
	Model           string
	Temperature     float64
	MaxTokens       int
	MaxTurns        int
	RollbackOnError bool
	Timeout         time.Duration

	// IdleTimeout evicts sessions not used for this long. Zero keeps them
	// until they are ended.
	IdleTimeout time.Duration
}

type Handler struct {
	llm      llm.Completer
	personas *persona.Library
	models   func() ([]string, error)
	store    TranscriptStore
	writer   *transcript.Writer
	defaults Defaults
	logger   *zap.Logger

	sessions *registry
	upgrader websocket.Upgrader
	now      func() time.Time
}

// Config wires a Handler to its collaborators. Models is called on every
// catalog request so edits to the catalog file show up without a restart.
type Config struct {
	LLM      llm.Completer
	Personas *persona.Library
	Models   func() ([]string, error)
	Store    TranscriptStore
	Writer   *transcript.Writer
	Defaults Defaults
	Logger   *zap.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		llm:      cfg.LLM,
		personas: cfg.Personas,
		models:   cfg.Models,
		store:    cfg.Store,
		writer:   cfg.Writer,
		defaults: cfg.Defaults,
		logger:   logger,
		sessions: newRegistry(),
		now:      time.Now,
	}
}

type StartSessionRequest struct {
	Model       string   `json:"model"`
	Personas    []string `json:"personas"`
	Temperature *float64 `json:"temperature"`
	MaxTokens   *int     `json:"max_tokens"`
}

type StartSessionResponse struct {
	SessionID string `json:"session_id"`
	Model     string `json:"model"`
	Message   string `json:"message"`
}

type MessageRequest struct {
	Content string `json:"content"`
}

type MessageResponse struct {
	Reply string `json:"reply"`
}

type EndSessionResponse struct {
	Saved   bool   `json:"saved"`
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StreamFrame is one server-to-client WebSocket message.
type StreamFrame struct {
	Type    string `json:"type"` // delta, done or error
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
	Kind    string `json:"kind,omitempty"`
}

// Routes registers every API endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/models", h.GetModels)
	mux.HandleFunc("GET /api/personas", h.GetPersonas)
	mux.HandleFunc("POST /api/sessions", h.StartSession)
	mux.HandleFunc("GET /api/sessions/{id}/messages", h.GetMessages)
	mux.HandleFunc("POST /api/sessions/{id}/messages", h.HandleMessage)
	mux.HandleFunc("POST /api/sessions/{id}/reset", h.ResetSession)
	mux.HandleFunc("POST /api/sessions/{id}/end", h.EndSession)
	mux.HandleFunc("GET /api/sessions/{id}/stream", h.StreamSession)
	mux.HandleFunc("GET /api/transcripts", h.GetTranscripts)
	mux.HandleFunc("GET /api/transcripts/search", h.SearchTranscripts)
	mux.HandleFunc("GET /api/transcripts/{id}", h.GetTranscript)
}

func (h *Handler) GetModels(w http.ResponseWriter, r *http.Request) {
	names, err := h.models()
	if err != nil {
		// the catalog falls back to defaults, so keep serving
		h.logger.Warn("Failed to load model catalog", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) GetPersonas(w http.ResponseWriter, r *http.Request) {
	names, err := h.personas.Scan()
	if err != nil {
		h.logger.Error("Failed to scan personas", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, names)
}

func (h *Handler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	system, err := h.personas.Merge(req.Personas)
	if err != nil {
		h.logger.Warn("Failed to merge personas", zap.Error(err), zap.Strings("personas", req.Personas))
		writeError(w, http.StatusBadRequest, err)
		return
	}

	model := req.Model
	if model == "" {
		model = h.defaults.Model
	}
	temperature := h.defaults.Temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	maxTokens := h.defaults.MaxTokens
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	s := chat.New(h.llm,
		chat.WithSystemPrompt(system),
		chat.WithPersonas(req.Personas),
		chat.WithModel(model),
		chat.WithTemperature(temperature),
		chat.WithMaxTokens(maxTokens),
		chat.WithMaxTurns(h.defaults.MaxTurns),
		chat.WithRollbackOnError(h.defaults.RollbackOnError),
		chat.WithLogger(h.logger),
	)
	h.sessions.add(s, h.now(), h.defaults.IdleTimeout)

	h.logger.Info("Session started",
		zap.String("session_id", s.ID()),
		zap.String("model", model),
		zap.Strings("personas", req.Personas))

	writeJSON(w, http.StatusCreated, StartSessionResponse{
		SessionID: s.ID(),
		Model:     model,
		Message:   "Session started. You can chat below.",
	})
}

func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req MessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}

	ctx, cancel := h.callContext(r.Context())
	defer cancel()

	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		writeError(w, http.StatusNotFound, errors.New("unknown session; start a session first"))
		return
	}
	reply, err := entry.session.Send(ctx, req.Content)
	entry.mu.Unlock()
	if err != nil {
		h.logger.Error("Failed to process message",
			zap.Error(err),
			zap.String("session_id", r.PathValue("id")),
			zap.String("kind", llm.KindName(err)))
		writeModelError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Reply: reply})
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	entry.mu.Lock()
	messages := entry.session.Messages()
	entry.mu.Unlock()

	writeJSON(w, http.StatusOK, messages)
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	entry.mu.Lock()
	entry.session.Reset()
	entry.mu.Unlock()

	w.WriteHeader(http.StatusNoContent)
}

// EndSession saves the transcript to the log directory and the archive, then
// closes the session. An empty session stays open.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	entry, ok := h.lookup(w, r)
	if !ok {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.closed {
		writeError(w, http.StatusNotFound, errors.New("unknown session; start a session first"))
		return
	}
	if entry.session.Len() == 0 {
		writeJSON(w, http.StatusOK, EndSessionResponse{Message: "Nothing to save in this session."})
		return
	}

	tr := entry.session.Transcript(h.now())
	path, err := h.writer.Save(tr)
	if err == nil {
		tr.Path = path
		err = multierr.Append(err, h.store.SaveTranscript(tr))
	}
	if err != nil {
		h.logger.Error("Failed to save transcript", zap.Error(err), zap.String("session_id", tr.ID))
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	entry.closed = true
	h.sessions.remove(tr.ID)
	h.logger.Info("Transcript saved", zap.String("session_id", tr.ID), zap.String("path", path))
	writeJSON(w, http.StatusOK, EndSessionResponse{Saved: true, Path: path, Message: "Saved to " + path})
}

func (h *Handler) GetTranscripts(w http.ResponseWriter, r *http.Request) {
	transcripts, err := h.store.GetTranscripts()
	if err != nil {
		h.logger.Error("Failed to get transcripts",
			zap.Error(err),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path))
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}

	h.logger.Debug("Retrieved transcripts", zap.Int("count", len(transcripts)))
	writeJSON(w, http.StatusOK, transcripts)
}

func (h *Handler) GetTranscript(w http.ResponseWriter, r *http.Request) {
	tr, err := h.store.GetTranscript(r.PathValue("id"))
	if errors.Is(err, db.ErrNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		h.logger.Error("Failed to get transcript", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	writeJSON(w, http.StatusOK, tr)
}

func (h *Handler) SearchTranscripts(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, errors.New("query parameter 'q' is required"))
		return
	}
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, errors.New("invalid limit"))
			return
		}
		limit = n
	}

	results, err := h.store.SearchTranscripts(query, limit)
	if errors.Is(err, db.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err != nil {
		h.logger.Error("Failed to search transcripts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*sessionEntry, bool) {
	entry, ok := h.sessions.get(r.PathValue("id"), h.now())
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("unknown session; start a session first"))
		return nil, false
	}
	return entry, true
}

func (h *Handler) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if h.defaults.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, h.defaults.Timeout)
}

// statusFor maps error classes onto HTTP statuses.
func statusFor(err error) int {
	switch llm.Kind(err) {
	case llm.ErrInvalidInput:
		return http.StatusBadRequest
	case llm.ErrAuthentication:
		return http.StatusUnauthorized
	case llm.ErrQuotaExceeded:
		return http.StatusTooManyRequests
	case llm.ErrTransport, llm.ErrService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeModelError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), ErrorResponse{Error: err.Error(), Kind: llm.KindName(err)})
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type sessionEntry struct {
	mu      sync.Mutex
	session *chat.Session
	// closed is set once the session is saved and removed from the registry.
	closed bool

	// guarded by registry.mu
	lastUsed time.Time
}

// registry owns live sessions. Each entry serializes access to its session.
type registry struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

func newRegistry() *registry {
	return &registry{sessions: make(map[string]*sessionEntry)}
}

// add registers s and evicts sessions idle for longer than idle.
func (r *registry) add(s *chat.Session, now time.Time, idle time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if idle > 0 {
		for id, e := range r.sessions {
			if now.Sub(e.lastUsed) > idle {
				delete(r.sessions, id)
			}
		}
	}
	r.sessions[s.ID()] = &sessionEntry{session: s, lastUsed: now}
}

func (r *registry) get(id string, now time.Time) (*sessionEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if ok {
		e.lastUsed = now
	}
	return e, ok
}

func (r *registry) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
