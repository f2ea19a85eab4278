package runtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

const readyCheckTimeout = 2 * time.Second

type readyReport struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// RunChecks runs every check concurrently, each bounded by its own timeout,
// and returns the failures keyed by check name.
func RunChecks(ctx context.Context, checks []ReadyCheck) map[string]error {
	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		failures = map[string]error{}
	)
	for _, c := range checks {
		if c.Check == nil {
			continue
		}
		name := c.Name
		if name == "" {
			name = "dependency"
		}
		wg.Add(1)
		go func(check func(context.Context) error) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, readyCheckTimeout)
			defer cancel()
			if err := check(checkCtx); err != nil {
				mu.Lock()
				failures[name] = err
				mu.Unlock()
			}
		}(c.Check)
	}
	wg.Wait()
	return failures
}

// NewBaseMuxWithReady serves /healthz (process liveness) and /readyz (all
// checks pass). Services mount their own routes on the returned mux.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeReport(w, http.StatusOK, readyReport{Status: "ok"})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		report := readyReport{Status: "ok", Checks: make(map[string]string, len(checks))}
		for _, c := range checks {
			if c.Name != "" {
				report.Checks[c.Name] = "ok"
			}
		}
		failures := RunChecks(r.Context(), checks)
		for name, err := range failures {
			report.Checks[name] = err.Error()
		}
		if len(failures) > 0 {
			report.Status = "unavailable"
			writeReport(w, http.StatusServiceUnavailable, report)
			return
		}
		writeReport(w, http.StatusOK, report)
	})
	return mux
}

func writeReport(w http.ResponseWriter, code int, report readyReport) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}
