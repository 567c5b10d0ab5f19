package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how the backend is configured.
type StatusHandler struct {
	Mode          string
	StoreDriver   string
	CipherMode    string
	HashAlgorithm string
	StartedAt     time.Time
}

// GetStatus responds with the running configuration summary.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"store_driver":   h.StoreDriver,
		"cipher_mode":    h.CipherMode,
		"hash_algorithm": h.HashAlgorithm,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
