package server

import (
	"database/sql"

	"github.com/go-chi/chi/v5"
	"github.com/swaggest/swgui/v5emb"
)

func (s *Server) addRoutes(r chi.Router, db *sql.DB) {
	r.Get("/openapi.json", handleOpenAPI())
	r.Mount("/docs", v5emb.New("KeyRace API", "/openapi.json", "/docs"))
	r.Get("/healthz", handleHealth(s.logger, db))
	r.Get("/ws", s.handleWS())

	r.Route("/api", func(r chi.Router) {
		r.Get("/rooms", s.handleListRooms())
		r.Get("/rooms/{code}", s.handleGetRoom())
	})
}
