package handler

import (
	"net/http"
	"strconv"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/service"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

type askRequest struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

func (h *ChatHandler) Ask(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req askRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, err := h.chat.Ask(r.Context(), userID, req.Username, req.Message)
	if err != nil {
		writeServiceError(w, err, "chat: failed to answer", "Failed to get a reply")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	messages, err := h.chat.History(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err, "chat: failed to load history", "Failed to load history")
		return
	}
	if messages == nil {
		messages = []model.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (h *ChatHandler) ClearHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.chat.ClearHistory(r.Context(), userID); err != nil {
		writeServiceError(w, err, "chat: failed to clear history", "Failed to clear history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
