package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

// Remote mirrors every write into an HTTP document store while serving
// reads from the wrapped Memory copy. Remote unavailability is logged and
// otherwise ignored: the engine keeps running on the in-memory state, so
// a flaky document store can lose history but never take analysis down.
type Remote struct {
	*Memory

	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemote wraps the memory store with a document-store binding. An
// empty endpoint disables mirroring entirely.
func NewRemote(memory *Memory, endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) *Remote {
	if memory == nil {
		memory = NewMemory(0)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Remote{
		Memory:     memory,
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (r *Remote) SaveConfiguration(ctx context.Context, cfg models.AlertConfiguration) error {
	if err := r.Memory.SaveConfiguration(ctx, cfg); err != nil {
		return err
	}
	r.mirror(ctx, "AlertConfiguration", cfg.ID, cfg)
	return nil
}

func (r *Remote) DeleteConfiguration(ctx context.Context, id string) error {
	if err := r.Memory.DeleteConfiguration(ctx, id); err != nil {
		return err
	}
	r.remove(ctx, "AlertConfiguration", id)
	return nil
}

func (r *Remote) SaveAlert(ctx context.Context, alert models.Alert) error {
	if err := r.Memory.SaveAlert(ctx, alert); err != nil {
		return err
	}
	r.mirror(ctx, "Alert", alert.ID, alert)
	return nil
}

func (r *Remote) SaveJob(ctx context.Context, job models.JobDefinition) error {
	if err := r.Memory.SaveJob(ctx, job); err != nil {
		return err
	}
	r.mirror(ctx, "JobDefinition", job.ID, job)
	return nil
}

func (r *Remote) DeleteJob(ctx context.Context, id string) error {
	if err := r.Memory.DeleteJob(ctx, id); err != nil {
		return err
	}
	r.remove(ctx, "JobDefinition", id)
	return nil
}

func (r *Remote) SaveExecution(ctx context.Context, exec models.JobExecution) error {
	if err := r.Memory.SaveExecution(ctx, exec); err != nil {
		return err
	}
	r.mirror(ctx, "JobExecution", exec.ID, exec)
	return nil
}

// mirror pushes a document upsert; failures are logged, never returned.
func (r *Remote) mirror(ctx context.Context, class, id string, document any) {
	if r.endpoint == "" {
		return
	}

	payload := map[string]any{
		"class":      class,
		"id":         id,
		"properties": document,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("document mirror marshal failed", "class", class, "id", id, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.endpoint+"/v1/documents/"+id, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("document mirror request failed", "class", class, "id", id, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	if err := r.do(req); err != nil {
		r.logger.Warn("document mirror degraded to memory only", "class", class, "id", id, "error", err)
	}
}

func (r *Remote) remove(ctx context.Context, class, id string) {
	if r.endpoint == "" {
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, r.endpoint+"/v1/documents/"+id, nil)
	if err != nil {
		r.logger.Warn("document delete request failed", "class", class, "id", id, "error", err)
		return
	}
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	if err := r.do(req); err != nil {
		r.logger.Warn("document delete degraded to memory only", "class", class, "id", id, "error", err)
	}
}

func (r *Remote) do(req *http.Request) error {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("document store returned %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}
	return nil
}
