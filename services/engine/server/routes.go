// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all engine API routes with the router group.
//
// Endpoints:
//
//	GET  /v1/results/latest      - most recent chunk result
//	GET  /v1/results/recent      - recent chunk results (?n=)
//	GET  /v1/labels              - spec labels in pipeline order
//	GET  /v1/specs               - full spec table
//	POST /v1/specs/:label/delay  - edit a spec's partner-channel delay
//	POST /v1/exposure            - set the capture chunk length
//	GET  /v1/stream              - websocket stream of chunk results
//	GET  /v1/healthz             - liveness probe
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	rg.GET("/results/latest", handlers.HandleLatestResult)
	rg.GET("/results/recent", handlers.HandleRecentResults)
	rg.GET("/labels", handlers.HandleLabels)
	rg.GET("/specs", handlers.HandleSpecs)
	rg.POST("/specs/:label/delay", handlers.HandleUpdateDelay)
	rg.POST("/exposure", handlers.HandleSetExposure)
	rg.GET("/stream", handlers.HandleStream)
	rg.GET("/healthz", handlers.HandleHealth)
}

// NewRouter builds the engine's HTTP router: the /v1 API plus /metrics
// when a Prometheus handler is supplied.
func NewRouter(handlers *Handlers, metricsHandler http.Handler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	v1 := router.Group("/v1")
	RegisterRoutes(v1, handlers)

	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}
	return router
}
