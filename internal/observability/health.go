package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"
)

// BuildInfo identifies the running binary on the liveness endpoint.
type BuildInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckResult is the outcome of one readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// ReadinessReport is the body of the readiness endpoint.
type ReadinessReport struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

const defaultCheckTimeout = 2 * time.Second

type namedCheck struct {
	name string
	run  func(ctx context.Context) error
}

// Readiness reports ready only when every registered check passes. It is
// an http.Handler.
type Readiness struct {
	timeout time.Duration
	checks  []namedCheck
}

// NewReadiness creates an empty readiness probe. Each check gets at most
// timeout to answer.
func NewReadiness(timeout time.Duration) *Readiness {
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}
	return &Readiness{timeout: timeout}
}

// Check registers a dependency. Nil checkers are ignored.
func (rd *Readiness) Check(name string, c HealthChecker) *Readiness {
	if c != nil {
		rd.checks = append(rd.checks, namedCheck{name: name, run: c.HealthCheck})
	}
	return rd
}

// Require registers a condition that fails with reason while ok reports false.
func (rd *Readiness) Require(name string, ok func() bool, reason string) *Readiness {
	rd.checks = append(rd.checks, namedCheck{name: name, run: func(context.Context) error {
		if ok == nil || !ok() {
			return errors.New(reason)
		}
		return nil
	}})
	return rd
}

// Report runs all checks concurrently.
func (rd *Readiness) Report(ctx context.Context) ReadinessReport {
	results := make([]CheckResult, len(rd.checks))
	var wg sync.WaitGroup
	for i, c := range rd.checks {
		wg.Go(func() {
			results[i] = rd.run(ctx, c)
		})
	}
	wg.Wait()

	report := ReadinessReport{Status: "ready", Checks: make(map[string]CheckResult, len(results))}
	for i, res := range results {
		report.Checks[rd.checks[i].name] = res
		if res.Status != "ok" {
			report.Status = "not_ready"
		}
	}
	return report
}

func (rd *Readiness) run(parent context.Context, c namedCheck) CheckResult {
	ctx, cancel := context.WithTimeout(parent, rd.timeout)
	defer cancel()

	start := time.Now()
	err := c.run(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func (rd *Readiness) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	report := rd.Report(r.Context())
	status := http.StatusOK
	if report.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	writeProbe(w, status, report)
}

// HandleHealth answers liveness probes with the build identity.
func HandleHealth(info BuildInfo) http.HandlerFunc {
	body := struct {
		Status string `json:"status"`
		BuildInfo
	}{Status: "ok", BuildInfo: info}
	return func(w http.ResponseWriter, _ *http.Request) {
		writeProbe(w, http.StatusOK, body)
	}
}

func writeProbe(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
