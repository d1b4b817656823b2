package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/service"
)

type AdminHandler struct {
	admin *service.AdminService
}

func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/overview", h.Overview)
	r.Get("/users", h.ListUsers)
	r.Post("/users/{userId}/grant", h.Grant)
	r.Get("/limits", h.Limits)
	r.Put("/limits/{model}", h.SetLimit)
	r.Post("/bot-creation", h.SetBotCreation)
	r.Get("/export/{document}", h.Export)
	return r
}

func (h *AdminHandler) Overview(w http.ResponseWriter, r *http.Request) {
	overview, err := h.admin.Overview(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin: failed to get overview stats")
		writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, overview)
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.admin.Users(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin: failed to list users")
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

type grantRequest struct {
	Amount int    `json:"amount"`
	Model  string `json:"model"`
}

func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req grantRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.admin.Grant(r.Context(), userID, req.Amount, req.Model); err != nil {
		writeServiceError(w, err, "admin: failed to grant tokens", "Failed to grant tokens")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"userId": userID,
		"amount": req.Amount,
		"model":  req.Model,
	})
}

func (h *AdminHandler) Limits(w http.ResponseWriter, r *http.Request) {
	limits, err := h.admin.Limits(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("admin: failed to get limits")
		writeError(w, http.StatusInternalServerError, "Failed to get limits")
		return
	}
	writeJSON(w, http.StatusOK, limits)
}

type setLimitRequest struct {
	Limit *int `json:"limit"`
}

func (h *AdminHandler) SetLimit(w http.ResponseWriter, r *http.Request) {
	modelID := chi.URLParam(r, "model")
	var req setLimitRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Limit == nil {
		writeError(w, http.StatusBadRequest, "limit is required")
		return
	}

	if err := h.admin.SetLimit(r.Context(), modelID, *req.Limit); err != nil {
		writeServiceError(w, err, "admin: failed to set limit", "Failed to set limit")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": modelID, "limit": *req.Limit})
}

type botCreationRequest struct {
	Enabled *bool `json:"enabled"`
}

// SetBotCreation sets the flag, or toggles it when enabled is omitted.
func (h *AdminHandler) SetBotCreation(w http.ResponseWriter, r *http.Request) {
	var req botCreationRequest
	if r.ContentLength != 0 {
		if !decodeBody(w, r, &req) {
			return
		}
	}

	var (
		enabled bool
		err     error
	)
	if req.Enabled != nil {
		enabled = *req.Enabled
		err = h.admin.SetCreationEnabled(r.Context(), enabled)
	} else {
		enabled, err = h.admin.ToggleCreation(r.Context())
	}
	if err != nil {
		log.Error().Err(err).Msg("admin: failed to switch bot creation")
		writeError(w, http.StatusInternalServerError, "Failed to switch bot creation")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"botCreationEnabled": enabled})
}

func (h *AdminHandler) Export(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "document")

	data, err := h.admin.Export(r.Context(), name)
	if err != nil {
		writeServiceError(w, err, "admin: failed to export document", "Failed to export document")
		return
	}

	filename := name + "-" + time.Now().UTC().Format("20060102-150405") + ".json"
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		log.Warn().Err(err).Str("document", name).Msg("admin: failed to write export")
	}
}
