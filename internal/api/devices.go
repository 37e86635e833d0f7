package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/shardlink/internal/paired"
)

// DeviceResponse describes a paired device. The shard itself is never
// exposed.
type DeviceResponse struct {
	ID             string    `json:"id"`
	GlobalID       string    `json:"global_id"`
	Name           string    `json:"name"`
	Platform       string    `json:"platform"`
	DistributionID string    `json:"distribution_id"`
	Threshold      int       `json:"threshold"`
	Parties        int       `json:"parties"`
	CreatedAt      time.Time `json:"created_at"`
}

func toDeviceResponse(d *paired.PairedDevice) DeviceResponse {
	info := d.Device()
	return DeviceResponse{
		ID:             d.ID(),
		GlobalID:       info.GlobalID,
		Name:           info.Name,
		Platform:       info.Platform,
		DistributionID: d.DistributionID(),
		Threshold:      d.Threshold(),
		Parties:        d.Parties(),
		CreatedAt:      d.CreatedAt(),
	}
}

// handleListDevices returns all paired devices.
//
// Query parameters:
//   - distribution_id: filter by distribution
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	distributionID := r.URL.Query().Get("distribution_id")

	devices := make([]DeviceResponse, 0, s.registry.Count())
	for _, d := range s.registry.Devices() {
		if distributionID != "" && d.DistributionID() != distributionID {
			continue
		}
		devices = append(devices, toDeviceResponse(d))
	}

	writeJSON(w, http.StatusOK, map[string]any{"devices": devices, "count": len(devices)})
}

// handleGetDevice returns a single paired device by global ID.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	globalID := chi.URLParam(r, "globalID")
	d := s.registry.Find(globalID)
	if d == nil {
		writeDeviceNotFound(w, r, globalID)
		return
	}
	writeJSON(w, http.StatusOK, toDeviceResponse(d))
}

// handleUnpairDevice deletes the device's shard key and drops it from the
// registry.
func (s *Server) handleUnpairDevice(w http.ResponseWriter, r *http.Request) {
	globalID := chi.URLParam(r, "globalID")
	log := s.requestLogger(r)

	d := s.registry.Find(globalID)
	if d == nil {
		writeDeviceNotFound(w, r, globalID)
		return
	}

	if err := s.registry.RemoveDevice(r.Context(), d); err != nil {
		log.Error("unpair failed", "global_id", globalID, "error", err)
		writeRegistryError(w, r, err)
		return
	}

	log.Info("device unpaired by operator",
		"global_id", globalID,
		"distribution_id", d.DistributionID(),
	)
	w.WriteHeader(http.StatusNoContent)
}
