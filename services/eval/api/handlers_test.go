// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianEval/services/eval/ab"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func newStore(t *testing.T) *storage.RunStore {
	t.Helper()
	db, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return storage.NewRunStore(db)
}

func storedRun(t *testing.T, store *storage.RunStore, id, config string, solved int, started time.Time) {
	t.Helper()
	tasks := make([]report.TaskResult, 10)
	for i := range tasks {
		tasks[i] = report.TaskResult{
			TaskID:  fmt.Sprintf("t%d", i),
			Metrics: metrics.TaskMetrics{Solved: i < solved, CostUSD: 0.01},
		}
	}
	r := &report.Report{
		RunID:      id,
		Kind:       report.KindEvaluation,
		Dataset:    "smoke",
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
		Batches:    []report.EvaluationResults{report.NewEvaluationResults(config, tasks)},
	}
	require.NoError(t, store.Save(context.Background(), r))
}

func setupRouter(runs RunReader) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(runs, nil))
	return router
}

func do(router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type failingReader struct{}

func (failingReader) Get(context.Context, string) (*report.Report, error) {
	return nil, errors.New("disk on fire")
}

func (failingReader) List(context.Context, int) ([]storage.RunSummary, error) {
	return nil, errors.New("disk on fire")
}

// -----------------------------------------------------------------------------
// Tests
// -----------------------------------------------------------------------------

func TestHandleHealth(t *testing.T) {
	w := do(setupRouter(newStore(t)), http.MethodGet, "/v1/eval/health", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandleListRuns(t *testing.T) {
	store := newStore(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	storedRun(t, store, "old", "baseline", 5, base)
	storedRun(t, store, "new", "candidate", 9, base.Add(time.Hour))
	router := setupRouter(store)

	t.Run("newest first", func(t *testing.T) {
		w := do(router, http.MethodGet, "/v1/eval/runs", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListRunsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 2, resp.Count)
		assert.Equal(t, "new", resp.Runs[0].RunID)
		assert.Equal(t, "old", resp.Runs[1].RunID)
	})

	t.Run("limit", func(t *testing.T) {
		w := do(router, http.MethodGet, "/v1/eval/runs?limit=1", "")
		require.Equal(t, http.StatusOK, w.Code)

		var resp ListRunsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, 1, resp.Count)
	})

	for _, bad := range []string{"0", "-3", "ten"} {
		t.Run("invalid limit "+bad, func(t *testing.T) {
			w := do(router, http.MethodGet, "/v1/eval/runs?limit="+bad, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_LIMIT")
		})
	}
}

func TestHandleListRuns_EmptyIsArray(t *testing.T) {
	w := do(setupRouter(newStore(t)), http.MethodGet, "/v1/eval/runs", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"runs":[],"count":0}`, w.Body.String())
}

func TestHandleGetRun(t *testing.T) {
	store := newStore(t)
	storedRun(t, store, "run-1", "baseline", 5, time.Now())
	router := setupRouter(store)

	w := do(router, http.MethodGet, "/v1/eval/runs/run-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var r report.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	assert.Equal(t, "run-1", r.RunID)
	require.Len(t, r.Batches, 1)
	assert.InDelta(t, 50.0, r.Batches[0].Accuracy, 1e-9)

	w = do(router, http.MethodGet, "/v1/eval/runs/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "RUN_NOT_FOUND")
}

func TestHandleCompare(t *testing.T) {
	store := newStore(t)
	now := time.Now()
	storedRun(t, store, "run-a", "baseline", 5, now)
	storedRun(t, store, "run-b", "candidate", 9, now.Add(time.Second))
	router := setupRouter(store)

	w := do(router, http.MethodPost, "/v1/eval/compare", `{"run_a":"run-a","run_b":"run-b"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp CompareResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "baseline", resp.Result.ConfigA)
	assert.Equal(t, "candidate", resp.Result.ConfigB)
	assert.InDelta(t, 40.0, resp.Result.Delta.Accuracy, 1e-9)
	assert.InDelta(t, 0.04684, resp.Result.Significance.Accuracy.PValue, 1e-4)
	assert.Equal(t, ab.Adopt, resp.Result.Recommendation)
	assert.NotEmpty(t, resp.Summary)
}

func TestHandleCompare_Errors(t *testing.T) {
	store := newStore(t)
	storedRun(t, store, "run-a", "baseline", 5, time.Now())
	require.NoError(t, store.Save(context.Background(), &report.Report{RunID: "empty", StartedAt: time.Now()}))
	router := setupRouter(store)

	tests := []struct {
		name string
		body string
		code int
		want string
	}{
		{"malformed", `{`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"missing run_b", `{"run_a":"run-a"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"same run", `{"run_a":"run-a","run_b":"run-a"}`, http.StatusBadRequest, "INVALID_REQUEST"},
		{"unknown run", `{"run_a":"run-a","run_b":"nope"}`, http.StatusNotFound, "RUN_NOT_FOUND"},
		{"no batches", `{"run_a":"run-a","run_b":"empty"}`, http.StatusUnprocessableEntity, "EMPTY_RUN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(router, http.MethodPost, "/v1/eval/compare", tt.body)
			assert.Equal(t, tt.code, w.Code)
			assert.Contains(t, w.Body.String(), tt.want)
		})
	}
}

func TestHandlers_StoreFailure(t *testing.T) {
	router := setupRouter(failingReader{})

	w := do(router, http.MethodGet, "/v1/eval/runs", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(router, http.MethodGet, "/v1/eval/runs/x", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "STORE_FAILED")
}

func TestRequestID(t *testing.T) {
	router := setupRouter(newStore(t))

	req := httptest.NewRequest(http.MethodGet, "/v1/eval/runs", nil)
	req.Header.Set("X-Request-ID", "abc")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get("X-Request-ID"))

	w = do(router, http.MethodGet, "/v1/eval/runs", "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestNewRouter_Metrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("eval_metric 1\n"))
	})
	router := NewRouter("aleutian-eval-test", NewHandlers(newStore(t), nil), metrics)

	w := do(router, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "eval_metric")

	w = do(router, http.MethodGet, "/v1/eval/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	noMetrics := NewRouter("svc", NewHandlers(newStore(t), nil), nil)
	w = do(noMetrics, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
