package api

import (
	"context"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	custom_logger "github.com/recyclens/detection-service/logger"
)

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	CORSOrigins  []string
	MaxBodyBytes int64
}

// NewRouter wires the routes and middleware around h.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/", h.Root).Methods(http.MethodGet)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/metrics", h.Metrics).Methods(http.MethodGet)
	r.HandleFunc("/v1/detect", h.Detect).Methods(http.MethodPost)

	r.Use(requestID, accessLog, recoverPanic, limitBody(opts.MaxBodyBytes))

	logger, _ := custom_logger.GetZapLogger(context.Background())
	recovery := handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{logger: logger}),
	)

	return cors(opts.CORSOrigins)(recovery(r))
}
