package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/way365/notiq/internal/models"
	"github.com/way365/notiq/internal/queue"
	"github.com/way365/notiq/internal/storage"
)

type MessageHandler struct {
	queue *queue.Queue
	store storage.Store
}

func NewMessageHandler(q *queue.Queue, store storage.Store) *MessageHandler {
	return &MessageHandler{queue: q, store: store}
}

func (h *MessageHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"running": h.queue.Running(),
	})
}

type sendMessageRequest struct {
	MessageType string `json:"message_type"`
	Destination string `json:"destination"`
	Content     string `json:"content"`
}

const maxContentSize = 256 * 1024 // 256KB

func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxContentSize)
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MessageType == "" {
		writeError(w, http.StatusBadRequest, "message_type is required")
		return
	}
	if req.Destination == "" {
		writeError(w, http.StatusBadRequest, "destination is required")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	messageID, err := h.queue.SendMessage(r.Context(), req.MessageType, req.Destination, req.Content)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to enqueue message")
		return
	}

	// Accepted, not created: delivery may still be in flight or queued for
	// retry. Callers poll GET /messages/{messageID} for the outcome.
	writeJSON(w, http.StatusAccepted, map[string]string{"message_id": messageID})
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	m, err := h.queue.Message(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = models.StatusDead
	}
	if !models.ValidStatus(status) {
		writeError(w, http.StatusBadRequest, "invalid status")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	msgs, err := h.store.ListByStatus(r.Context(), status, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": msgs})
}

// Requeue resurrects a dead message for another round of delivery attempts.
func (h *MessageHandler) Requeue(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	m, err := h.store.FindByMessageID(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	if m.Status != models.StatusDead {
		writeError(w, http.StatusConflict, "only dead messages can be requeued")
		return
	}

	if err := h.store.Requeue(r.Context(), messageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to requeue message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID, "status": string(models.StatusPending)})
}

func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	m, err := h.store.FindByMessageID(r.Context(), messageID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get message")
		return
	}
	if m == nil {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}

	if err := h.store.Delete(r.Context(), messageID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *MessageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
