package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/doodleduel/backend/internal/hub"
)

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Stats asks the hub for live connection/room counts.
func Stats(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply := make(chan hub.Stats, 1)
		h.Inbox() <- hub.GetStats{Reply: reply}

		select {
		case stats := <-reply:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(stats)
		case <-r.Context().Done():
			http.Error(w, "stats unavailable", http.StatusServiceUnavailable)
		}
	}
}
