package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"time"
)

type pipeline struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Environment string            `json:"environment"`
	Tags        map[string]string `json:"tags,omitempty"`
}

type resourceUsage struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Storage float64 `json:"storage"`
	Network float64 `json:"network"`
}

type pipelineRun struct {
	ID              string             `json:"id"`
	PipelineID      string             `json:"pipeline_id"`
	Branch          string             `json:"branch"`
	CommitSHA       string             `json:"commit_sha"`
	Status          string             `json:"status"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
	DurationMinutes float64            `json:"duration_minutes"`
	Resources       resourceUsage      `json:"resources"`
	CustomMetrics   map[string]float64 `json:"custom_metrics,omitempty"`
}

var knownPipelines = []pipeline{
	{ID: "backend-build", Name: "Backend Build", Environment: "production", Tags: map[string]string{"team": "platform"}},
	{ID: "frontend-build", Name: "Frontend Build", Environment: "production", Tags: map[string]string{"team": "web"}},
	{ID: "nightly-e2e", Name: "Nightly E2E", Environment: "staging"},
}

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/pipelines", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		writeJSON(w, map[string]any{"pipelines": knownPipelines})
	})

	mux.HandleFunc("/api/v1/pipelines/runs/", func(w http.ResponseWriter, r *http.Request) {
		if !enforceGet(w, r) {
			return
		}
		pipelineID := strings.TrimPrefix(r.URL.Path, "/api/v1/pipelines/runs/")
		if !pipelineKnown(pipelineID) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, map[string]any{"runs": syntheticRuns(pipelineID, 30)})
	})

	logger := log.New(log.Writer(), "pipelines-mock ", log.LstdFlags|log.Lmicroseconds)
	srv := &http.Server{
		Addr:    ":8080",
		Handler: logRequests(logger, mux),
	}

	logger.Println("listening on :8080")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("server error: %v", err)
	}
}

func pipelineKnown(id string) bool {
	for _, p := range knownPipelines {
		if p.ID == id {
			return true
		}
	}
	return false
}

// syntheticRuns produces a day of plausible run records: ~12 minute builds
// with jitter, an occasional failure and one outlier to exercise anomaly
// detection.
func syntheticRuns(pipelineID string, count int) []pipelineRun {
	rng := rand.New(rand.NewSource(42))
	runs := make([]pipelineRun, 0, count)
	now := time.Now().UTC().Truncate(time.Minute)

	for i := 0; i < count; i++ {
		duration := 12 + rng.Float64()*3
		status := "succeeded"
		switch {
		case i == count-2:
			duration *= 3 // outlier
		case rng.Float64() < 0.1:
			status = "failed"
		}

		finished := now.Add(-time.Duration(count-i) * 45 * time.Minute)
		started := finished.Add(-time.Duration(duration * float64(time.Minute)))
		runs = append(runs, pipelineRun{
			ID:              fmt.Sprintf("%s-run-%03d", pipelineID, i),
			PipelineID:      pipelineID,
			Branch:          "main",
			CommitSHA:       fmt.Sprintf("%08x", rng.Uint32()),
			Status:          status,
			StartedAt:       started,
			FinishedAt:      finished,
			DurationMinutes: duration,
			Resources: resourceUsage{
				CPU:     55 + rng.Float64()*25,
				Memory:  60 + rng.Float64()*20,
				Storage: 30 + rng.Float64()*10,
				Network: 20 + rng.Float64()*10,
			},
			CustomMetrics: map[string]float64{
				"test_count": 1800 + float64(rng.Intn(40)),
			},
		})
	}
	return runs
}

func enforceGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode error: %v", err)
	}
}

func logRequests(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		logger.Printf("%s %s %d %s", r.Method, r.URL.Path, rw.status, time.Since(start))
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
