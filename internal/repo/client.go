package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/cache"
	"github.com/pulsestack/pulse-analytics/internal/models"
	"github.com/pulsestack/pulse-analytics/internal/utils"
)

const activePipelinesCacheKey = "pulse:pipelines:active"

// Client wraps the pipeline run API. It is the only component that talks
// to the upstream CI/CD system; everything downstream works on the run
// records and series derived from them.
type Client struct {
	baseURL       string
	runsPath      string
	pipelinesPath string
	httpClient    *http.Client
	cache         cache.Provider
	listTTL       time.Duration
}

// NewClient constructs a client targeting the configured run API instance.
// The pipeline list is served cache-aside through the provider with the
// given TTL; run windows are always fetched fresh.
func NewClient(baseURL, runsPath, pipelinesPath string, timeout time.Duration, provider cache.Provider, listTTL time.Duration) *Client {
	if provider == nil {
		provider = cache.NoopProvider{}
	}
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		runsPath:      runsPath,
		pipelinesPath: pipelinesPath,
		httpClient:    &http.Client{Timeout: timeout},
		cache:         provider,
		listTTL:       listTTL,
	}
}

// FetchRuns returns the pipeline's run records inside [start, end), oldest
// first. An unknown pipeline yields ErrNotFound; a window with no runs
// yields an empty slice, not an error.
func (c *Client) FetchRuns(ctx context.Context, pipelineID string, start, end time.Time) ([]models.PipelineRun, error) {
	if c.baseURL == "" {
		return nil, utils.NewAppError("repo.FetchRuns", "run API base URL not configured", utils.ErrConfigurationInvalid)
	}
	if strings.TrimSpace(pipelineID) == "" {
		return nil, utils.NewAppError("repo.FetchRuns", "pipeline id is empty", utils.ErrConfigurationInvalid)
	}

	endpoint := c.resolvePath(path.Join(c.runsPath, url.PathEscape(pipelineID)))
	query := url.Values{}
	query.Set("start", start.UTC().Format(time.RFC3339))
	query.Set("end", end.UTC().Format(time.RFC3339))

	var response struct {
		Runs []models.PipelineRun `json:"runs"`
	}
	if err := c.getJSON(ctx, endpoint+"?"+query.Encode(), &response); err != nil {
		if errors404(err) {
			return nil, utils.NewAppError("repo.FetchRuns", fmt.Sprintf("pipeline %s unknown", pipelineID), utils.ErrNotFound)
		}
		return nil, utils.NewAppError("repo.FetchRuns", "run API request failed", err)
	}

	runs := response.Runs
	if runs == nil {
		runs = []models.PipelineRun{}
	}
	return runs, nil
}

// ListActivePipelines returns the pipelines currently eligible for
// analysis. Results are cached so a global job firing against many
// pipelines does not hammer the upstream list endpoint.
func (c *Client) ListActivePipelines(ctx context.Context) ([]models.Pipeline, error) {
	if c.baseURL == "" {
		return nil, utils.NewAppError("repo.ListActivePipelines", "run API base URL not configured", utils.ErrConfigurationInvalid)
	}

	if data, err := c.cache.Get(ctx, activePipelinesCacheKey); err == nil {
		var cached []models.Pipeline
		if json.Unmarshal(data, &cached) == nil {
			return cached, nil
		}
	}

	var response struct {
		Pipelines []models.Pipeline `json:"pipelines"`
	}
	if err := c.getJSON(ctx, c.resolvePath(c.pipelinesPath), &response); err != nil {
		return nil, utils.NewAppError("repo.ListActivePipelines", "run API request failed", err)
	}

	if data, err := json.Marshal(response.Pipelines); err == nil {
		_ = c.cache.Set(ctx, activePipelinesCacheKey, data, c.listTTL)
	}
	return response.Pipelines, nil
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

type statusError struct {
	code   int
	status string
}

func (e *statusError) Error() string { return fmt.Sprintf("run API returned %s", e.status) }

func errors404(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.code == http.StatusNotFound
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &statusError{code: resp.StatusCode, status: resp.Status}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
