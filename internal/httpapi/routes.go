package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"arena-server/internal/duel"
	"arena-server/internal/tournament"
	"arena-server/internal/ws"
)

func SetupRoutes(a *duel.Arena, tr *tournament.Manager, staticDir string, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/status", Status(a, tr))
	r.Get("/ws/duel", ws.DuelHandler(a, log.Named("ws.duel")))
	r.Get("/ws/tournament", ws.TournamentHandler(tr, log.Named("ws.tournament")))

	// client UI
	r.Handle("/*", http.FileServer(http.Dir(staticDir)))

	return r
}
