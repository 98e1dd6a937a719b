package api

import (
	"log/slog"
	"net/http"
)

// HubHandler serves the hub status endpoints.
type HubHandler struct {
	svc    HubService
	logger *slog.Logger
}

// NewHubHandler creates a new HubHandler.
func NewHubHandler(svc HubService, logger *slog.Logger) *HubHandler {
	return &HubHandler{svc: svc, logger: logger}
}

// Peers handles GET /api/peers.
func (h *HubHandler) Peers(w http.ResponseWriter, r *http.Request) {
	peers, err := h.svc.Peers(r.Context())
	if err != nil {
		h.logger.Error("peers failed", slog.String("error", err.Error()))
		WriteJSON(w, http.StatusServiceUnavailable, ErrorBody("hub unavailable"))
		return
	}
	WriteJSON(w, http.StatusOK, peers)
}

// Volunteers handles GET /api/volunteers.
func (h *HubHandler) Volunteers(w http.ResponseWriter, r *http.Request) {
	vols, err := h.svc.Volunteers(r.Context())
	if err != nil {
		h.logger.Error("volunteers failed", slog.String("error", err.Error()))
		WriteJSON(w, http.StatusServiceUnavailable, ErrorBody("hub unavailable"))
		return
	}
	WriteJSON(w, http.StatusOK, vols)
}

// Stats handles GET /api/stats.
func (h *HubHandler) Stats(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, HubStatsResponse{DroppedFrames: h.svc.Dropped()})
}
