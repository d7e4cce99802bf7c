package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/subsubl/hass-quixi-bridge/internal/audit"
	"github.com/subsubl/hass-quixi-bridge/internal/bridge"
	"github.com/subsubl/hass-quixi-bridge/internal/state"
)

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	HubURL     string       `json:"hub_url"`
	Connection string       `json:"connection"`
	Streaming  bool         `json:"streaming"`
	Devices    int          `json:"devices"`
	Stats      bridge.Stats `json:"stats"`
}

// DeviceListResponse is the body of GET /devices.
type DeviceListResponse struct {
	Devices []state.DeviceState `json:"devices"`
	Count   int                 `json:"count"`
}

// handleStatus reports hub connection state and engine counters.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, StatusResponse{
		HubURL:     s.hubURL,
		Connection: stats.State.String(),
		Streaming:  stats.State == bridge.Streaming,
		Devices:    stats.CachedEntities,
		Stats:      stats,
	})
}

// handleListDevices returns the cached states sorted by entity id.
//
// Query parameters:
//   - domain: only entities whose id starts with "<domain>."
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.engine.Cache().Snapshot()

	if domain := r.URL.Query().Get("domain"); domain != "" {
		prefix := domain + "."
		filtered := make([]state.DeviceState, 0, len(snapshot))
		for _, d := range snapshot {
			if strings.HasPrefix(d.EntityID, prefix) {
				filtered = append(filtered, d)
			}
		}
		snapshot = filtered
	}

	writeJSON(w, http.StatusOK, DeviceListResponse{Devices: snapshot, Count: len(snapshot)})
}

// handleGetDevice returns one cached state.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	entityID := chi.URLParam(r, "entityID")
	st, ok := s.engine.Cache().Get(entityID)
	if !ok {
		writeNotFound(w, "entity not in cache: "+entityID)
		return
	}
	writeJSON(w, http.StatusOK, state.DeviceState{EntityID: entityID, State: st})
}

// handleListCommands returns paginated command audit entries.
//
// Query parameters:
//   - sender: filter by sender address
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "command audit not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{Sender: q.Get("sender")}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list command log", "error", err)
		writeInternalError(w, "failed to list command log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
