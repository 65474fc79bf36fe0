package server

import (
	"encoding/json"
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/keyrace/api/internal/race"
)

// ErrorResponse is returned for all error responses.
type ErrorResponse struct {
	Error string `json:"error"`
}

func newOpenAPISpec() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "KeyRace API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Backend API for the KeyRace multiplayer typing game.")

	// GET /healthz
	getHealthz, _ := r.NewOperationContext(http.MethodGet, "/healthz")
	getHealthz.SetSummary("Health check")
	getHealthz.SetDescription("Returns the health status of backend dependencies.")
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	getHealthz.AddRespStructure(HealthResponse{}, openapi.WithHTTPStatus(http.StatusServiceUnavailable))
	_ = r.AddOperation(getHealthz)

	// GET /ws
	getWS, _ := r.NewOperationContext(http.MethodGet, "/ws")
	getWS.SetSummary("Game WebSocket")
	getWS.SetDescription("Upgrades to the WebSocket connection that carries all room and race events. Pass a stable user id with ?user= to keep host authority across reconnects.")
	getWS.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("text/plain"))
	_ = r.AddOperation(getWS)

	// GET /api/rooms
	listRooms, _ := r.NewOperationContext(http.MethodGet, "/api/rooms")
	listRooms.SetSummary("List open rooms")
	listRooms.SetDescription("Returns rooms that are in the lobby and unlocked.")
	listRooms.AddRespStructure(RoomListResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(listRooms)

	// GET /api/rooms/{code}
	getRoom, _ := r.NewOperationContext(http.MethodGet, "/api/rooms/{code}")
	getRoom.SetSummary("Look up room")
	getRoom.SetDescription("Look up a room by its invite code before joining.")
	getRoom.AddRespStructure(race.RoomInfo{}, openapi.WithHTTPStatus(http.StatusOK))
	getRoom.AddRespStructure(ErrorResponse{}, openapi.WithHTTPStatus(http.StatusNotFound))
	_ = r.AddOperation(getRoom)

	return r.Spec
}

func handleOpenAPI() http.HandlerFunc {
	spec := newOpenAPISpec()
	data, _ := json.MarshalIndent(spec, "", "  ")

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	}
}
