// Package api exposes the daemon's control surface as a small HTTP API
// served over the session's Unix domain socket. chatlinkctl is its only
// intended client.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/AdrenalinApprizal/chatlink/internal/conn"
	"github.com/AdrenalinApprizal/chatlink/internal/health"
	"github.com/AdrenalinApprizal/chatlink/internal/messages"
	"github.com/AdrenalinApprizal/chatlink/internal/queue"
)

// Handler serves the control endpoints.
type Handler struct {
	session string
	started time.Time
	mgr     *conn.Manager
	monitor *health.Monitor
	store   *messages.Store
	queue   *queue.Queue
	logger  *zap.Logger
}

// NewHandler wires the control API against the running daemon components.
func NewHandler(session string, mgr *conn.Manager, monitor *health.Monitor, store *messages.Store, q *queue.Queue, logger *zap.Logger) *Handler {
	return &Handler{
		session: session,
		started: time.Now(),
		mgr:     mgr,
		monitor: monitor,
		store:   store,
		queue:   q,
		logger:  logger,
	}
}

// Router builds the chi router for the control socket.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/v1/status", h.getStatus)
	r.Get("/v1/health", h.getHealth)
	r.Get("/v1/queue", h.getQueue)
	r.Get("/v1/messages", h.getMessages)
	r.Post("/v1/messages", h.postMessage)
	r.Post("/v1/typing", h.postTyping)
	r.Post("/v1/reconnect", h.postReconnect)
	r.Post("/v1/subscriptions", h.postSubscription)

	return r
}

// StatusResponse is the body of GET /v1/status.
type StatusResponse struct {
	Session  string        `json:"session"`
	UptimeMS int64         `json:"uptime_ms"`
	Snapshot conn.Snapshot `json:"snapshot"`
}

func (h *Handler) getStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Session:  h.session,
		UptimeMS: time.Since(h.started).Milliseconds(),
		Snapshot: h.mgr.Snapshot(),
	})
}

func (h *Handler) getHealth(w http.ResponseWriter, r *http.Request) {
	report := h.monitor.Last()
	if report == nil || r.URL.Query().Get("fresh") == "1" {
		report = h.monitor.Check()
	}
	writeJSON(w, http.StatusOK, report)
}

// QueueResponse is the body of GET /v1/queue.
type QueueResponse struct {
	Depth   int           `json:"depth"`
	Entries []queue.Entry `json:"entries"`
}

func (h *Handler) getQueue(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, QueueResponse{
		Depth:   h.queue.Len(),
		Entries: h.queue.Entries(),
	})
}

// MessagesResponse is the body of GET /v1/messages.
type MessagesResponse struct {
	Count    int                    `json:"count"`
	Messages []messages.ChatMessage `json:"messages"`
}

func (h *Handler) getMessages(w http.ResponseWriter, r *http.Request) {
	snap := h.store.Snapshot()

	if recipient := r.URL.Query().Get("recipient"); recipient != "" {
		filtered := snap[:0]
		for _, m := range snap {
			if m.RecipientID == recipient || m.SenderID == recipient {
				filtered = append(filtered, m)
			}
		}
		snap = filtered
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		if limit < len(snap) {
			// Most recent messages live at the tail.
			snap = snap[len(snap)-limit:]
		}
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Count: len(snap), Messages: snap})
}

// SendMessageRequest is the body of POST /v1/messages.
type SendMessageRequest struct {
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
}

// SendMessageResponse reports the optimistic message created for a send.
// Pending stays true until the server echo replaces the local copy.
type SendMessageResponse struct {
	TempID  string `json:"temp_id"`
	Pending bool   `json:"pending"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RecipientID == "" || strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, "recipient_id and content are required")
		return
	}
	msg, err := h.mgr.SendChat(req.RecipientID, req.Content)
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, SendMessageResponse{
		TempID:  msg.ID,
		Pending: msg.Pending,
	})
}

// TypingRequest is the body of POST /v1/typing.
type TypingRequest struct {
	RecipientID string `json:"recipient_id"`
	Typing      bool   `json:"typing"`
}

func (h *Handler) postTyping(w http.ResponseWriter, r *http.Request) {
	var req TypingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.RecipientID == "" {
		writeError(w, http.StatusBadRequest, "recipient_id is required")
		return
	}
	h.mgr.SendTyping(req.RecipientID, req.Typing)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) postReconnect(w http.ResponseWriter, _ *http.Request) {
	h.logger.Info("reconnect requested via control API")
	h.mgr.ForceReconnect()
	w.WriteHeader(http.StatusNoContent)
}

// SubscriptionRequest is the body of POST /v1/subscriptions.
type SubscriptionRequest struct {
	Channel string `json:"channel"`
}

func (h *Handler) postSubscription(w http.ResponseWriter, r *http.Request) {
	var req SubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	h.mgr.Subscribe(req.Channel)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
