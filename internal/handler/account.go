package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openclaw/botforge-relay/internal/catalog"
	"github.com/openclaw/botforge-relay/internal/service"
)

type AccountHandler struct {
	accounts *service.AccountService
	catalog  *catalog.Catalog
}

func NewAccountHandler(accounts *service.AccountService, catalog *catalog.Catalog) *AccountHandler {
	return &AccountHandler{accounts: accounts, catalog: catalog}
}

func (h *AccountHandler) ListModels(w http.ResponseWriter, r *http.Request) {
	limits, err := h.catalog.Limits(r.Context())
	if err != nil {
		writeServiceError(w, err, "accounts: failed to get limits", "Failed to list models")
		return
	}

	models := h.catalog.Models()
	for i := range models {
		models[i].Limit = limits[models[i].ID]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"default": h.catalog.Default(),
		"models":  models,
	})
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.accounts.Profile(r.Context(), userID, r.URL.Query().Get("username"))
	if err != nil {
		writeServiceError(w, err, "accounts: failed to load account", "Failed to load account")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (h *AccountHandler) UserModels(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}

	models, err := h.accounts.Models(r.Context(), userID, r.URL.Query().Get("username"))
	if err != nil {
		writeServiceError(w, err, "accounts: failed to list user models", "Failed to list models")
		return
	}
	writeJSON(w, http.StatusOK, models)
}

type selectModelRequest struct {
	Model    string `json:"model"`
	Username string `json:"username"`
}

func (h *AccountHandler) SelectModel(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	var req selectModelRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.accounts.SelectModel(r.Context(), userID, req.Username, req.Model); err != nil {
		writeServiceError(w, err, "accounts: failed to select model", "Failed to select model")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"selectedModel": req.Model})
}

func (h *AccountHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := parseUserID(w, r)
	if !ok {
		return
	}
	modelID := chi.URLParam(r, "model")

	balance, err := h.accounts.Balance(r.Context(), userID, modelID)
	if err != nil {
		writeServiceError(w, err, "accounts: failed to get balance", "Failed to get balance")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"model": modelID, "balance": balance})
}
