package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liftroster/rostersync/app/shared/attr"
	sharedtypes "github.com/liftroster/rostersync/app/shared/types"
)

// adminRouter builds the admin HTTP surface: health, metrics, and the batch
// job triggers.
func (a *App) adminRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{}))

	r.Post("/jobs/duplicate-scan", a.handleEnqueueScan)
	r.Post("/jobs/contamination-repair/{athleteID}", a.handleEnqueueRepair)
	r.Get("/jobs", a.handleListJobs)

	return r
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if err := a.DB.PingContext(r.Context()); err != nil {
		a.Logger.Error("Health check database ping failed", attr.Error(err))
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	if err := a.QueueService.HealthCheck(r.Context()); err != nil {
		a.Logger.Error("Health check queue probe failed", attr.Error(err))
		http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (a *App) handleEnqueueScan(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope         string `json:"scope"`
		MinConfidence int    `json:"min_confidence"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	if err := a.QueueService.RunDuplicateScan(r.Context(), req.Scope, req.MinConfidence); err != nil {
		http.Error(w, "failed to enqueue scan", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleEnqueueRepair(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "athleteID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid athlete id", http.StatusBadRequest)
		return
	}

	if err := a.QueueService.RunContaminationRepair(r.Context(), sharedtypes.AthleteID(id)); err != nil {
		http.Error(w, "failed to enqueue repair", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *App) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.QueueService.PendingJobs(r.Context())
	if err != nil {
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(jobs); err != nil {
		a.Logger.Error("Failed to encode job list", attr.Error(err))
	}
}
