package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/solace/internal/protocol"
)

const (
	routeStream = "chat_stream"
	routeWS     = "chat_ws"

	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

type chatRequest struct {
	ConversationID string `json:"conversation_id" validate:"required,max=64"`
	Text           string `json:"text" validate:"required"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	reply, err := s.chat.Send(r.Context(), userIDFrom(r.Context()), req.ConversationID, req.Text)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, reply)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	if !s.limiter.Allow(userID) {
		s.metrics.RateLimited.WithLabelValues(routeStream).Inc()
		respondError(w, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
		return
	}

	var req chatRequest
	if err := s.decodeValid(r, &req); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming_unsupported", "response writer cannot flush")
		return
	}

	sse := &sseWriter{w: w, flusher: flusher}
	_, err := s.chat.SendStream(r.Context(), userID, req.ConversationID, req.Text, sse.Write)
	if err == nil {
		return
	}
	if !sse.started {
		s.respondServiceError(w, r, err)
		return
	}
	// The stream already ended with done; another frame would break that.
	s.logger.Error("stream turn failed after first event",
		"request_id", middleware.GetReqID(r.Context()),
		"conversation_id", req.ConversationID,
		"err", err,
	)
}

// sseWriter frames events as server-sent events, sending headers on the
// first event so earlier failures can still become plain JSON errors.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func (s *sseWriter) Write(ev protocol.Event) error {
	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *Server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx := r.Context()
	write := func(ev protocol.Event) error {
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteJSON(ev)
	}

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		if msgType != websocket.TextMessage {
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			if werr := write(protocol.ErrorEvent("invalid_client_message", err.Error())); werr != nil {
				return
			}
			continue
		}

		switch msg := parsed.(type) {
		case protocol.Ping:
			if err := write(protocol.Pong()); err != nil {
				return
			}
		case protocol.UserMessage:
			if !s.limiter.Allow(userID) {
				s.metrics.RateLimited.WithLabelValues(routeWS).Inc()
				if err := write(protocol.ErrorEvent("rate_limited", "too many requests, slow down")); err != nil {
					return
				}
				continue
			}
			convID := strings.TrimSpace(msg.ConversationID)
			started := false
			emit := func(ev protocol.Event) error {
				started = true
				ev.ConversationID = convID
				return write(ev)
			}
			if _, err := s.chat.SendStream(ctx, userID, convID, msg.Text, emit); err != nil {
				_, code, detail := serviceError(err)
				if code == "internal" {
					s.logger.Error("websocket turn failed", "conversation_id", convID, "err", err)
				}
				if started {
					continue
				}
				ev := protocol.ErrorEvent(code, detail)
				ev.ConversationID = convID
				if werr := write(ev); werr != nil {
					return
				}
			}
		}
	}
}
