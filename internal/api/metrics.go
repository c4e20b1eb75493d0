package api

import (
	"net/http"
)

// RegisterMetrics registers the Prometheus handler in the provided mux.
func RegisterMetrics(mux *http.ServeMux, metrics http.Handler) {
	mux.Handle("/metrics", metrics)
}
