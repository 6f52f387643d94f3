package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type healthResponse struct {
	Status         string `json:"status"`
	Connections    int    `json:"connections"`
	Ready          int    `json:"ready"`
	ViewedEntities int    `json:"viewed_entities"`
}

// Handler routes the websocket endpoint, /health and, when enabled, the metrics
// endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.config.Server.Path, s.ws)
	mux.HandleFunc("/health", s.handleHealth)

	if s.config.Metrics.Enabled && s.gatherer != nil {
		mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(healthResponse{
		Status:         "healthy",
		Connections:    s.peer.Dispatcher().SocketEntities().Len(),
		Ready:          s.peer.ReadyCount(),
		ViewedEntities: s.peer.Dispatcher().ViewedEntities().Len(),
	})
}
