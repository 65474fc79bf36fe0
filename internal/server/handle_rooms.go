package server

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/keyrace/api/internal/race"
)

type RoomListResponse struct {
	Rooms []race.RoomInfo `json:"rooms"`
}

func (s *Server) handleListRooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms := s.engine.ListOpenRooms()
		if rooms == nil {
			rooms = []race.RoomInfo{}
		}
		writeJSON(w, http.StatusOK, RoomListResponse{Rooms: rooms})
	}
}

func (s *Server) handleGetRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := strings.ToUpper(chi.URLParam(r, "code"))
		info, ok := s.engine.LookupRoom(code)
		if !ok {
			writeError(w, http.StatusNotFound, "room not found")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}
