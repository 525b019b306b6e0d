// Package health serves the transcript server's liveness and readiness
// probes.
//
// /healthz answers 200 whenever the process can serve HTTP at all; /readyz
// answers 200 only while every registered dependency [Checker] (database,
// pub/sub store) passes, and 503 otherwise. Bodies are JSON: a top-level
// "status" of "ok" or "fail" plus a per-checker "checks" map, so an operator
// reading the probe output sees which dependency is the problem.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// checkTimeout bounds one readiness probe of one dependency.
const checkTimeout = 5 * time.Second

// Checker probes one dependency. Check returns nil while the dependency is
// usable and must respect context cancellation.
type Checker struct {
	// Name keys the check in the JSON response ("database", "redis").
	Name string

	Check func(ctx context.Context) error
}

// result is the probe response body.
type result struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Handler serves both probe endpoints. The checker list is fixed at
// construction; Handler itself is stateless and safe for concurrent use.
type Handler struct {
	checkers []Checker
}

// New creates a Handler evaluating the given checkers, in order, on each
// /readyz request.
func New(checkers ...Checker) *Handler {
	c := make([]Checker, len(checkers))
	copy(c, checkers)
	return &Handler{checkers: c}
}

// Healthz always answers 200: a process that got this far is alive, whatever
// the state of its dependencies.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, result{Status: "ok"})
}

// Readyz answers 200 only when every checker passes. Every checker runs on
// every request, so the response always names all failing dependencies, not
// just the first.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string, len(h.checkers))
	status := http.StatusOK

	for _, c := range h.checkers {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := c.Check(ctx)
		cancel()

		if err != nil {
			checks[c.Name] = "fail: " + err.Error()
			status = http.StatusServiceUnavailable
		} else {
			checks[c.Name] = "ok"
		}
	}

	res := result{Status: "ok", Checks: checks}
	if status != http.StatusOK {
		res.Status = "fail"
	}
	writeJSON(w, status, res)
}

// Register mounts both probe routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.Healthz)
	mux.HandleFunc("GET /readyz", h.Readyz)
}

// Postgres checks the transcript database pool.
func Postgres(pool *pgxpool.Pool) Checker {
	return Checker{Name: "database", Check: pool.Ping}
}

// Redis checks the event broker / presence store connection.
func Redis(client redis.UniversalClient) Checker {
	return Checker{
		Name: "redis",
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// Encode errors here mean the client hung up; nothing useful to do.
	_ = json.NewEncoder(w).Encode(v)
}
