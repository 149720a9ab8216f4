package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/solace/internal/llm"
)

type createConversationRequest struct {
	Title string `json:"title" validate:"max=120"`
}

type renameConversationRequest struct {
	Title string `json:"title" validate:"required,max=120"`
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req createConversationRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondServiceError(w, r, &llm.ValidationError{Field: "title", Reason: "too long"})
		return
	}

	conv, err := s.chat.Create(r.Context(), userIDFrom(r.Context()), s.plainText(req.Title))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, conv)
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	convs, err := s.chat.List(r.Context(), userIDFrom(r.Context()))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleRenameConversation(w http.ResponseWriter, r *http.Request) {
	var req renameConversationRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.chat.Rename(r.Context(), userIDFrom(r.Context()), id, s.plainText(req.Title)); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if err := s.chat.Delete(r.Context(), userIDFrom(r.Context()), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	msgs, err := s.chat.Messages(r.Context(), userIDFrom(r.Context()), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleUserCounselorMessages(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	msgs, err := s.console.CounselorMessages(r.Context(), userIDFrom(r.Context()), id, false)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}
