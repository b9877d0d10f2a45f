package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cardlab/tabletop-sync-backend/internal/hub"
	"github.com/cardlab/tabletop-sync-backend/internal/ws"
)

func SetupRoutes(h *hub.Hub, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/lobbies", CreateLobby(h))
	r.Get("/lobbies/{lobby}/debug", DebugState(h))
	r.Get("/ws", ws.Handler(h, log))
	return r
}
