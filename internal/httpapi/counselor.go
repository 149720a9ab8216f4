package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ent0n29/solace/internal/memory"
)

type reviewRequest struct {
	Status string `json:"status" validate:"omitempty,oneof=OPEN REVIEWED FOLLOW_UP CLOSED"`
	Note   string `json:"note" validate:"max=4000"`
}

type counselorMessageRequest struct {
	Text string `json:"text" validate:"required,max=2000"`
}

func (s *Server) handleRiskDashboard(w http.ResponseWriter, r *http.Request) {
	rows, err := s.console.Dashboard(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if level := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("level"))); level != "" {
		filtered := rows[:0]
		for _, row := range rows {
			if row.Level == level {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}
	respondJSON(w, http.StatusOK, map[string]any{"rows": rows})
}

func (s *Server) handleCounselorDetail(w http.ResponseWriter, r *http.Request) {
	detail, err := s.console.Detail(r.Context(), strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	review, err := s.console.SubmitReview(
		r.Context(),
		strings.TrimSpace(chi.URLParam(r, "id")),
		counselorName(r),
		memory.ReviewStatus(req.Status),
		s.plainText(req.Note),
	)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, review)
}

func (s *Server) handleCounselorSend(w http.ResponseWriter, r *http.Request) {
	var req counselorMessageRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	msg, err := s.console.Send(
		r.Context(),
		strings.TrimSpace(chi.URLParam(r, "id")),
		counselorName(r),
		s.plainText(req.Text),
	)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, msg)
}
