package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"github.com/tidwall/gjson"
)

const maxAdminBodyBytes = 1 << 20

// handleClearBubbles is the out-of-band equivalent of the websocket
// adminCommand:clearBubbles, authenticated with the same shared secret and
// returning the same result shape.
func (a *App) handleClearBubbles(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"success": false,
			"message": "failed to read request body",
		})
		return
	}

	if gjson.GetBytes(body, "password").String() != a.config.Admin.Secret {
		a.logger.Warn("HTTP clearBubbles with wrong secret")
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "invalid admin password",
		})
		return
	}

	initiator := gjson.GetBytes(body, "initiator").String()
	if initiator == "" {
		initiator = "http-admin"
	}

	result := a.control.ClearAllBubbles(initiator)
	writeJSON(w, http.StatusOK, result)
}

// handleStats exposes the global counters plus live store/registry sizes.
// Machine-readable only; there is deliberately no HTML status page.
func (a *App) handleStats(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	secret := r.Header.Get("X-Admin-Secret")
	if secret == "" {
		secret = r.URL.Query().Get("secret")
	}
	if secret != a.config.Admin.Secret {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "invalid admin password",
		})
		return
	}

	writeJSON(w, http.StatusOK, a.control.Stats())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.Any("error", err))
	}
}
