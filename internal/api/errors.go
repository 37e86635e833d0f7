package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/nerrad567/shardlink/internal/paired"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status    int    `json:"status"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// Error codes.
const (
	ErrCodeDeviceNotFound     = "device_not_found"
	ErrCodeStorageUnavailable = "storage_unavailable"
	ErrCodeInternal           = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:    status,
		Code:      code,
		Message:   message,
		RequestID: requestID(r),
	})
}

func writeDeviceNotFound(w http.ResponseWriter, r *http.Request, globalID string) {
	writeError(w, r, http.StatusNotFound, ErrCodeDeviceNotFound,
		fmt.Sprintf("no paired device with global id %q", globalID))
}

// writeRegistryError maps a Registry failure to a response. A storage
// failure leaves the device list untouched, so the caller may retry.
func writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, paired.ErrStorage) {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable,
			"shard key storage unavailable, device still paired")
		return
	}
	writeError(w, r, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
}
