// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes stored evaluation runs over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianEval/services/eval/ab"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/storage"
)

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

const (
	defaultListLimit = 20
	maxListLimit     = 500
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// RunReader is the read side of the run store.
type RunReader interface {
	Get(ctx context.Context, id string) (*report.Report, error)
	List(ctx context.Context, limit int) ([]storage.RunSummary, error)
}

// HealthResponse is the response for GET /v1/eval/health.
type HealthResponse struct {
	// Status is "healthy".
	Status string `json:"status"`

	// Version is the service version.
	Version string `json:"version"`
}

// ListRunsResponse is the response for GET /v1/eval/runs.
type ListRunsResponse struct {
	Runs  []storage.RunSummary `json:"runs"`
	Count int                  `json:"count"`
}

// CompareRequest is the request body for POST /v1/eval/compare.
//
// RunA is the baseline and RunB the candidate. The first batch of each
// stored run is compared.
type CompareRequest struct {
	RunA string `json:"run_a" binding:"required"`
	RunB string `json:"run_b" binding:"required,nefield=RunA"`
}

// CompareResponse is the response for POST /v1/eval/compare.
type CompareResponse struct {
	RunA    string              `json:"run_a"`
	RunB    string              `json:"run_b"`
	Result  ab.ComparisonResult `json:"result"`
	Summary string              `json:"summary"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}

// Handlers serves the evaluation endpoints.
//
// Thread Safety: Safe for concurrent use if the RunReader is.
type Handlers struct {
	runs   RunReader
	logger *slog.Logger
}

// NewHandlers creates handlers over a run store. A nil logger means
// slog.Default().
func NewHandlers(runs RunReader, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{runs: runs, logger: logger}
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HandleHealth handles GET /v1/eval/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
	})
}

// HandleListRuns handles GET /v1/eval/runs.
//
// Query Parameters:
//
//	limit - Maximum number of runs, newest first (default 20, max 500)
//
// Response:
//
//	200 OK: ListRunsResponse
//	400 Bad Request: Invalid limit
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleListRuns(c *gin.Context) {
	logger := h.requestLogger(c, "HandleListRuns")

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: "limit must be a positive integer",
				Code:  "INVALID_LIMIT",
			})
			return
		}
		limit = min(n, maxListLimit)
	}

	runs, err := h.runs.List(c.Request.Context(), limit)
	if err != nil {
		logger.Error("List runs failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: err.Error(),
			Code:  "STORE_FAILED",
		})
		return
	}
	if runs == nil {
		runs = []storage.RunSummary{}
	}
	c.JSON(http.StatusOK, ListRunsResponse{Runs: runs, Count: len(runs)})
}

// HandleGetRun handles GET /v1/eval/runs/:id.
//
// Response:
//
//	200 OK: report.Report
//	404 Not Found: No such run
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleGetRun(c *gin.Context) {
	logger := h.requestLogger(c, "HandleGetRun")

	id := c.Param("id")
	r, err := h.runs.Get(c.Request.Context(), id)
	if err != nil {
		h.storeError(c, logger, id, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

// HandleCompare handles POST /v1/eval/compare.
//
// Description:
//
//	Loads two stored runs and compares the first batch of each, treating
//	run_a as the baseline.
//
// Request Body:
//
//	CompareRequest
//
// Response:
//
//	200 OK: CompareResponse
//	400 Bad Request: Validation error
//	404 Not Found: Either run is missing
//	422 Unprocessable Entity: A run has no batches
//	500 Internal Server Error: Store failure
func (h *Handlers) HandleCompare(c *gin.Context) {
	logger := h.requestLogger(c, "HandleCompare")

	var req CompareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid request body", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: "run_a and run_b are required and must differ",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	batches := make([]report.EvaluationResults, 0, 2)
	for _, id := range []string{req.RunA, req.RunB} {
		r, err := h.runs.Get(c.Request.Context(), id)
		if err != nil {
			h.storeError(c, logger, id, err)
			return
		}
		if len(r.Batches) == 0 {
			c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
				Error: fmt.Sprintf("run %s has no results", id),
				Code:  "EMPTY_RUN",
			})
			return
		}
		batches = append(batches, r.Batches[0])
	}

	result := report.Compare(batches[0], batches[1])
	logger.Info("Compared runs",
		"run_a", req.RunA,
		"run_b", req.RunB,
		"recommendation", result.Recommendation.String())

	c.JSON(http.StatusOK, CompareResponse{
		RunA:    req.RunA,
		RunB:    req.RunB,
		Result:  result,
		Summary: result.Summary(),
	})
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (h *Handlers) storeError(c *gin.Context, logger *slog.Logger, id string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: fmt.Sprintf("run %s not found", id),
			Code:  "RUN_NOT_FOUND",
		})
		return
	}
	logger.Error("Get run failed", "run_id", id, "error", err)
	c.JSON(http.StatusInternalServerError, ErrorResponse{
		Error: err.Error(),
		Code:  "STORE_FAILED",
	})
}

func (h *Handlers) requestLogger(c *gin.Context, handler string) *slog.Logger {
	return h.logger.With("request_id", requestID(c), "handler", handler)
}

// requestID returns the caller's X-Request-ID or a fresh one, echoing it
// back on the response.
func requestID(c *gin.Context) string {
	id := c.GetHeader("X-Request-ID")
	if id == "" {
		id = uuid.NewString()
	}
	c.Header("X-Request-ID", id)
	return id
}
