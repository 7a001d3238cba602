package handlers

import (
	"context"
	"net/http"
	"time"
)

// Health pings the job store.
func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	body := map[string]string{"status": "healthy", "store": "ok", "provider": a.Provider}
	if err := a.Jobs.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Msg("health: job store ping failed")
		body["status"] = "unhealthy"
		body["store"] = "unavailable"
		a.json(w, http.StatusServiceUnavailable, body)
		return
	}
	a.json(w, http.StatusOK, body)
}
