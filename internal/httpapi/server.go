package httpapi

import (
	"encoding/json"
	"errors"
	"html"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/microcosm-cc/bluemonday"

	"github.com/ent0n29/solace/internal/config"
	"github.com/ent0n29/solace/internal/conversation"
	"github.com/ent0n29/solace/internal/llm"
	"github.com/ent0n29/solace/internal/memory"
	"github.com/ent0n29/solace/internal/observability"
)

const (
	userHeader      = "X-User-ID"
	counselorHeader = "X-Counselor"
)

type Server struct {
	cfg      config.Config
	chat     *conversation.Service
	console  *conversation.Console
	metrics  *observability.Metrics
	stages   *observability.StageWindow
	limiter  *userLimiter
	validate *validator.Validate
	strip    *bluemonday.Policy
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

func New(
	cfg config.Config,
	chat *conversation.Service,
	console *conversation.Console,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		chat:     chat,
		console:  console,
		metrics:  metrics,
		stages:   stages,
		limiter:  newUserLimiter(cfg.StreamRateLimit, cfg.StreamRateWindow),
		validate: validator.New(),
		strip:    bluemonday.StrictPolicy(),
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Group(func(r chi.Router) {
		r.Use(s.requireUser)

		r.Post("/v1/conversations", s.handleCreateConversation)
		r.Get("/v1/conversations", s.handleListConversations)
		r.Patch("/v1/conversations/{id}", s.handleRenameConversation)
		r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
		r.Get("/v1/conversations/{id}/messages", s.handleListMessages)
		r.Get("/v1/conversations/{id}/counselor-messages", s.handleUserCounselorMessages)

		r.Post("/v1/chat", s.handleChat)
		r.Post("/v1/chat/stream", s.handleChatStream)
		r.Get("/v1/chat/ws", s.handleChatWS)
	})

	r.Route("/v1/counselor", func(r chi.Router) {
		r.Use(s.requireCounselor)

		r.Get("/risks", s.handleRiskDashboard)
		r.Get("/conversations/{id}", s.handleCounselorDetail)
		r.Post("/conversations/{id}/review", s.handleSubmitReview)
		r.Post("/conversations/{id}/messages", s.handleCounselorSend)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ready",
		"llm_mode":          s.cfg.LLMMode,
		"store_mode":        memory.Mode(s.cfg.DatabaseURL),
		"counselor_enabled": s.cfg.CounselorToken != "",
	})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	if s.stages == nil {
		respondJSON(w, http.StatusOK, observability.StageSnapshot{Stages: []observability.StageStats{}})
		return
	}
	respondJSON(w, http.StatusOK, s.stages.Snapshot())
}

// serviceError maps domain errors onto an HTTP status and error code.
func serviceError(err error) (int, string, string) {
	var verr *llm.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, "invalid_request", verr.Error()
	case errors.Is(err, memory.ErrNotFound):
		return http.StatusNotFound, "not_found", "conversation not found"
	case errors.Is(err, conversation.ErrForbidden):
		return http.StatusForbidden, "forbidden", "conversation belongs to another user"
	default:
		return http.StatusInternalServerError, "internal", "internal error"
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := serviceError(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"path", r.URL.Path,
			"request_id", middleware.GetReqID(r.Context()),
			"err", err,
		)
	}
	respondError(w, status, code, msg)
}

// decodeValid decodes the JSON body into out and validates its struct tags.
func (s *Server) decodeValid(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil {
		return &llm.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := s.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &llm.ValidationError{Field: strings.ToLower(verrs[0].Field()), Reason: verrs[0].Tag()}
		}
		return &llm.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

// plainText drops markup from user-supplied text. StrictPolicy escapes what
// it keeps, so entities are decoded again before the text is stored.
func (s *Server) plainText(in string) string {
	return strings.TrimSpace(html.UnescapeString(s.strip.Sanitize(in)))
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
