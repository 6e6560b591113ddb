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
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RegisterRoutes registers the /v1/eval endpoints.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Endpoints:
//
//	GET  /v1/eval/health - Health check
//	GET  /v1/eval/runs - List stored runs, newest first
//	GET  /v1/eval/runs/:id - Full report of one run
//	POST /v1/eval/compare - Compare two stored runs
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	eval := rg.Group("/eval")
	{
		eval.GET("/health", handlers.HandleHealth)
		eval.GET("/runs", handlers.HandleListRuns)
		eval.GET("/runs/:id", handlers.HandleGetRun)
		eval.POST("/compare", handlers.HandleCompare)
	}
}

// NewRouter builds the engine served by "aleutian-eval serve".
//
// Description:
//
//	Adds recovery and OTel tracing middleware, mounts the API under /v1
//	and, when metrics is non-nil, serves it at /metrics.
//
// Inputs:
//
//	serviceName - Name reported on server spans
//	handlers - The handlers instance
//	metrics - Prometheus handler, may be nil
func NewRouter(serviceName string, handlers *Handlers, metrics http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))

	RegisterRoutes(router.Group("/v1"), handlers)
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(metrics))
	}
	return router
}
