package health

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type Checker func(ctx context.Context) error

// Check is a named readiness dependency, e.g. the crop ledger.
type Check struct {
	Name  string
	Check Checker
}

type mux interface {
	Handle(pattern string, handler http.Handler)
}

// Register adds /healthz (liveness) and /readyz (readiness) endpoints. readyz
// fails with the names of the failing checks.
func Register(mux mux, checks ...Check) {
	mux.Handle("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	mux.Handle("/readyz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		var failing []string
		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				slog.Warn("readiness check failed", "check", c.Name, "err", err)
				failing = append(failing, c.Name)
			}
		}
		if len(failing) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready: " + strings.Join(failing, ",")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
}
