package server

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"
)

type HealthResponse struct {
	Sqlite string `json:"sqlite"`
}

func handleHealth(logger *slog.Logger, db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		resp := HealthResponse{Sqlite: "ok"}
		status := http.StatusOK

		if err := db.PingContext(ctx); err != nil {
			logger.Error("health check failed", "name", "sqlite", "error", err)
			resp.Sqlite = "error"
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	}
}
