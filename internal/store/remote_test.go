package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/pulsestack/pulse-analytics/internal/models"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func TestRemoteMirrorsWrites(t *testing.T) {
	var mirrored []string
	r := NewRemote(NewMemory(0), "https://docs.example.com", "key-1", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.httpClient = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		if got := req.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Fatalf("missing auth header: %q", got)
		}
		mirrored = append(mirrored, req.Method+" "+req.URL.Path)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader(nil)),
			Header:     make(http.Header),
		}, nil
	})}

	ctx := context.Background()
	if err := r.SaveJob(ctx, models.JobDefinition{ID: "job-1", Name: "nightly"}); err != nil {
		t.Fatalf("save job: %v", err)
	}
	if err := r.DeleteJob(ctx, "job-1"); err != nil {
		t.Fatalf("delete job: %v", err)
	}

	want := []string{"PUT /v1/documents/job-1", "DELETE /v1/documents/job-1"}
	if len(mirrored) != len(want) || mirrored[0] != want[0] || mirrored[1] != want[1] {
		t.Fatalf("unexpected mirror calls: %v", mirrored)
	}
}

func TestRemoteDegradesToMemoryOnFailure(t *testing.T) {
	r := NewRemote(NewMemory(0), "https://docs.example.com", "", time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r.httpClient = &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("connection refused")
	})}

	ctx := context.Background()
	alert := models.Alert{ID: "alert-1", Status: models.AlertTriggered, Type: models.AlertSLA}
	if err := r.SaveAlert(ctx, alert); err != nil {
		t.Fatalf("remote failure should not surface: %v", err)
	}

	got, err := r.GetAlert(ctx, "alert-1")
	if err != nil {
		t.Fatalf("memory copy missing: %v", err)
	}
	if got.Type != models.AlertSLA {
		t.Fatalf("unexpected alert: %+v", got)
	}
}
