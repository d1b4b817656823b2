package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/botforge-relay/internal/aiclient"
	"github.com/openclaw/botforge-relay/internal/httputil"
	"github.com/openclaw/botforge-relay/internal/service"
	"github.com/openclaw/botforge-relay/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeServiceError maps service errors to responses. Unexpected errors are
// logged under msg and answered with fallback.
func writeServiceError(w http.ResponseWriter, err error, msg, fallback string) {
	var quotaErr *service.QuotaExhaustedError
	var apiErr *aiclient.APIError

	switch {
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":   "Quota exhausted",
			"model":   quotaErr.Model,
			"resetAt": quotaErr.ResetAt.Format(time.RFC3339),
			"resetIn": int64(time.Until(quotaErr.ResetAt).Seconds()),
		})
	case errors.Is(err, service.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUnknownModel):
		writeError(w, http.StatusBadRequest, "Unknown model")
	case errors.Is(err, service.ErrAccountNotFound):
		writeError(w, http.StatusNotFound, "User not found")
	case errors.Is(err, service.ErrBotNotFound):
		writeError(w, http.StatusNotFound, "Bot not found")
	case errors.Is(err, service.ErrArtifactMissing):
		writeError(w, http.StatusNotFound, "Bot code not found")
	case errors.Is(err, service.ErrUnknownDocument):
		writeError(w, http.StatusNotFound, "Unknown document")
	case errors.Is(err, service.ErrCreationDisabled):
		writeError(w, http.StatusForbidden, "Bot creation is disabled")
	case errors.Is(err, service.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, "Bot is already running")
	case errors.Is(err, service.ErrStartFailed):
		writeError(w, http.StatusUnprocessableEntity, "Bot could not be started")
	case errors.Is(err, aiclient.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, "Upstream request timed out")
	case errors.As(err, &apiErr):
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":          "Upstream request failed",
			"upstreamStatus": apiErr.Status,
		})
	case errors.Is(err, aiclient.ErrResponseTooLarge):
		writeError(w, http.StatusBadGateway, "Upstream response too large")
	case errors.Is(err, service.ErrGenerationFailed):
		writeError(w, http.StatusBadGateway, "Code generation failed")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusServiceUnavailable, "Storage busy, retry")
	default:
		log.Error().Err(err).Msg(msg)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func parseUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return 0, false
	}
	return userID, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := httputil.DecodeJSON(r, dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
