package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/model"
	"github.com/openclaw/botforge-relay/internal/service"
	"github.com/openclaw/botforge-relay/internal/util"
)

type BotHandler struct {
	bots *service.BotService
}

func NewBotHandler(bots *service.BotService) *BotHandler {
	return &BotHandler{bots: bots}
}

func (h *BotHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{botId}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/edit", h.Edit)
		r.Post("/start", h.Start)
		r.Post("/stop", h.Stop)
		r.Get("/code", h.Code)
		r.Get("/dependencies", h.Dependencies)
	})
	return r
}

// formatBot never exposes the full credential.
func formatBot(b model.BotRecord) map[string]any {
	return map[string]any{
		"botId":       b.BotID,
		"ownerId":     b.OwnerID,
		"credential":  util.MaskCredential(b.Credential),
		"description": b.Description,
		"model":       b.Model,
		"createdAt":   b.CreatedAt.Format(time.RFC3339),
		"isRunning":   b.IsRunning,
	}
}

func (h *BotHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	bots, err := h.bots.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err, "bots: failed to list bots", "Failed to list bots")
		return
	}

	result := make([]map[string]any, 0, len(bots))
	for _, b := range bots {
		result = append(result, formatBot(b))
	}
	writeJSON(w, http.StatusOK, result)
}

type createBotRequest struct {
	Credential  string `json:"credential"`
	Description string `json:"description"`
	Username    string `json:"username"`
}

func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req createBotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	record, err := h.bots.Create(r.Context(), service.CreateBotRequest{
		OwnerID:     userID,
		Username:    req.Username,
		Credential:  req.Credential,
		Description: req.Description,
	})
	if err != nil {
		writeServiceError(w, err, "bots: failed to create bot", "Failed to create bot")
		return
	}
	writeJSON(w, http.StatusCreated, formatBot(*record))
}

func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	record, err := h.bots.Get(r.Context(), userID, chi.URLParam(r, "botId"))
	if err != nil {
		writeServiceError(w, err, "bots: failed to get bot", "Failed to get bot")
		return
	}
	writeJSON(w, http.StatusOK, formatBot(*record))
}

type editBotRequest struct {
	Changes  string `json:"changes"`
	Username string `json:"username"`
}

func (h *BotHandler) Edit(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req editBotRequest
	if !decodeBody(w, r, &req) {
		return
	}

	record, err := h.bots.Edit(r.Context(), userID, req.Username, chi.URLParam(r, "botId"), req.Changes)
	if err != nil {
		writeServiceError(w, err, "bots: failed to edit bot", "Failed to edit bot")
		return
	}
	writeJSON(w, http.StatusOK, formatBot(*record))
}

func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.bots.Delete(r.Context(), userID, chi.URLParam(r, "botId")); err != nil {
		writeServiceError(w, err, "bots: failed to delete bot", "Failed to delete bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	if err := h.bots.Start(r.Context(), userID, chi.URLParam(r, "botId")); err != nil {
		writeServiceError(w, err, "bots: failed to start bot", "Failed to start bot")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "isRunning": true})
}

func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	stopped, err := h.bots.Stop(r.Context(), userID, chi.URLParam(r, "botId"))
	if err != nil {
		writeServiceError(w, err, "bots: failed to stop bot", "Failed to stop bot")
		return
	}
	status := "stopped"
	if !stopped {
		status = "already_stopped"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status, "isRunning": false})
}

func (h *BotHandler) Code(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	botID := chi.URLParam(r, "botId")

	code, err := h.bots.Code(r.Context(), userID, botID)
	if err != nil {
		writeServiceError(w, err, "bots: failed to read bot code", "Failed to read bot code")
		return
	}

	w.Header().Set("Content-Type", "text/x-python; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+h.bots.ArtifactName(userID, botID)+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(code); err != nil {
		log.Warn().Err(err).Str("botId", botID).Msg("bots: failed to write bot code")
	}
}

func (h *BotHandler) Dependencies(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	deps, err := h.bots.Dependencies(r.Context(), userID, chi.URLParam(r, "botId"))
	if err != nil {
		writeServiceError(w, err, "bots: failed to list dependencies", "Failed to list dependencies")
		return
	}
	writeJSON(w, http.StatusOK, deps)
}
