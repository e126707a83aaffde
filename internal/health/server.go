package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/devblac/quest-verify/internal/metrics"
)

type Checker struct {
	LedgerPing func(ctx context.Context) error
	RPCPing    func(ctx context.Context) error
}

// Handler reports ledger and RPC reachability as JSON.
func Handler(checker Checker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := map[string]string{"status": "ok"}
		code := http.StatusOK

		if checker.LedgerPing != nil {
			if err := checker.LedgerPing(ctx); err != nil {
				status["ledger"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["ledger"] = "ok"
			}
		}
		if checker.RPCPing != nil {
			if err := checker.RPCPing(ctx); err != nil {
				status["rpc"] = "fail"
				code = http.StatusServiceUnavailable
			} else {
				status["rpc"] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}

// Serve starts the operations listener with /healthz and /metrics.
func Serve(addr string, checker Checker) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", Handler(checker))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 3 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the operations server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
