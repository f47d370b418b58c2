package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/tinymud/tinymud/internal/middleware"
	"github.com/tinymud/tinymud/internal/ws"
)

// RouterConfig holds configuration for the router
type RouterConfig struct {
	Logger   *slog.Logger
	WSServer *ws.Server
}

// NewRouter creates the HTTP router. The world itself speaks over the
// websocket endpoint; HTTP carries only the upgrade and health checks.
func NewRouter(cfg RouterConfig) http.Handler {
	r := mux.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger, middleware.DefaultPanicHandler))
	r.Use(middleware.Logging(cfg.Logger))

	r.HandleFunc("/ws", cfg.WSServer.HandleWS).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler).Methods(http.MethodGet)

	return r
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
