package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/doodleduel/backend/internal/hub"
	"github.com/doodleduel/backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/stats", Stats(h))
	r.Get("/ws", ws.Handler(h, log))
	return r
}
