package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"git.home.luguber.info/inful/insightsync/internal/config"
	"git.home.luguber.info/inful/insightsync/internal/eventstore"
	"git.home.luguber.info/inful/insightsync/internal/logfields"
	"git.home.luguber.info/inful/insightsync/internal/metrics"
)

// LastRun summarizes the most recent sync run seen by this process.
type LastRun struct {
	RunID          string    `json:"run_id"`
	Status         string    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	Records        int       `json:"records"`
	Slices         int       `json:"slices"`
	FailedAccounts []string  `json:"failed_accounts,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// StatusResponse is served on /status.
type StatusResponse struct {
	Status   Status                  `json:"status"`
	Uptime   string                  `json:"uptime"`
	Runs     int64                   `json:"runs"`
	Interval string                  `json:"interval"`
	NextRun  *time.Time              `json:"next_run,omitempty"`
	LastRun  *LastRun                `json:"last_run,omitempty"`
	LastSync *time.Time              `json:"last_sync,omitempty"`
	History  []eventstore.RunSummary `json:"history,omitempty"`
}

const maxStatusHistory = 20

// Handler returns the daemon's HTTP routes.
func (d *Daemon) Handler(metricsPath string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET /status", d.handleStatus)
	if d.registry != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle("GET "+metricsPath, metrics.HTTPHandler(d.registry))
	}
	return mux
}

func (d *Daemon) statusSnapshot() StatusResponse {
	cfg := d.Config()
	resp := StatusResponse{
		Status:   d.GetStatus(),
		Uptime:   time.Since(d.startTime).Round(time.Second).String(),
		Runs:     d.runs.Load(),
		Interval: cfg.Daemon.IntervalDuration().String(),
	}

	d.mu.RLock()
	sched := d.scheduler
	d.mu.RUnlock()
	if sched != nil {
		if next, ok := sched.NextRun(syncJobName); ok {
			resp.NextRun = &next
		}
	}

	if res := d.lastRun.Load(); res != nil {
		last := &LastRun{
			RunID:          res.RunID,
			Status:         string(res.Status),
			StartedAt:      res.StartTime,
			DurationMS:     res.Duration.Milliseconds(),
			Records:        res.Records(),
			Slices:         res.Slices(),
			FailedAccounts: res.FailedAccounts(),
		}
		if msg := d.lastErr.Load(); msg != nil {
			last.Error = *msg
		}
		resp.LastRun = last
	}

	if d.projection != nil {
		if ts := d.projection.LastSyncTime(); !ts.IsZero() {
			resp.LastSync = &ts
		}
		history := d.projection.History()
		if len(history) > maxStatusHistory {
			history = history[:maxStatusHistory]
		}
		resp.History = history
	}
	return resp
}

func (d *Daemon) handleStatus(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.statusSnapshot()); err != nil {
		slog.Error("Failed to encode status", logfields.Error(err))
	}
}

func (d *Daemon) newHTTPServer(cfg config.MetricsConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           d.Handler(cfg.Path),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// serveHTTP runs srv until ctx is done and then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server shutdown failed", logfields.Error(err))
		}
		return ctx.Err()
	}
}
