package httpapi

import (
	"io"
	"log/slog"
	"net/http"

	hashrouter "go-hashrouter"
)

// NewBackendHandler returns the handler of a backend server the router can
// route to: GET /heartbeat for liveness and GET /home for the routed payload.
func NewBackendHandler(serverID string, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var mux = http.NewServeMux()

	mux.HandleFunc("GET /heartbeat", func(w http.ResponseWriter, r *http.Request) {
		logger.Debug("heartbeat checked")
		writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
	})

	mux.HandleFunc("GET /home", func(w http.ResponseWriter, r *http.Request) {
		logger.Info("received request", "server_id", serverID, "request_id", r.Header.Get(hashrouter.RequestIDHeader))
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Hello from Server: " + serverID,
			"status":  statusSuccessful,
		})
	})

	return mux
}
