// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/pkg/validation"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/live"
	"github.com/qlaiblab/qlaib/services/engine/metrics"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
	"github.com/qlaiblab/qlaib/services/engine/telemetry"
)

// Handlers implements the HTTP API over a live controller.
type Handlers struct {
	ctrl *live.Controller
	tm   *telemetry.Metrics
	log  *logging.Logger
}

// NewHandlers wires the HTTP layer. tm may be nil to skip instrument
// recording (tests).
func NewHandlers(ctrl *live.Controller, tm *telemetry.Metrics, log *logging.Logger) *Handlers {
	return &Handlers{ctrl: ctrl, tm: tm, log: log}
}

// ResultResponse is the JSON shape of one processed chunk.
type ResultResponse struct {
	Seq         int64                   `json:"seq"`
	BatchID     string                  `json:"batch_id"`
	DurationSec float64                 `json:"duration_sec"`
	Singles     map[batch.ChannelID]int `json:"singles"`
	Counts      map[string]int          `json:"counts"`
	Accidentals map[string]float64      `json:"accidentals,omitempty"`
	Metrics     []metrics.Value         `json:"metrics,omitempty"`
	Report      string                  `json:"report"`
}

func (h *Handlers) toResponse(u live.Update) ResultResponse {
	return ResultResponse{
		Seq:         u.Seq,
		BatchID:     u.Result.BatchID,
		DurationSec: u.Result.DurationSec,
		Singles:     u.Result.Singles,
		Counts:      u.Result.Counts,
		Accidentals: u.Result.Accidentals,
		Metrics:     u.Metrics,
		Report:      FormatReport(u.Result, h.ctrl.Pipeline().Labels()),
	}
}

// HandleLatestResult returns the most recent chunk, 404 before the first
// chunk lands.
func (h *Handlers) HandleLatestResult(c *gin.Context) {
	u, ok := h.ctrl.History().Latest()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no results yet"})
		return
	}
	c.JSON(http.StatusOK, h.toResponse(u))
}

// HandleRecentResults returns up to ?n= recent chunks, oldest first
// (default 16).
func (h *Handlers) HandleRecentResults(c *gin.Context) {
	n := 16
	if raw := c.Query("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid n"})
			return
		}
		n = parsed
	}
	updates := h.ctrl.History().Recent(n)
	out := make([]ResultResponse, 0, len(updates))
	for _, u := range updates {
		out = append(out, h.toResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// HandleLabels lists the configured spec labels in pipeline order.
func (h *Handlers) HandleLabels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"labels": h.ctrl.Pipeline().Labels()})
}

// HandleSpecs returns the full spec table.
func (h *Handlers) HandleSpecs(c *gin.Context) {
	specs := h.ctrl.Pipeline().Specs()
	type specResponse struct {
		Label    string                      `json:"label"`
		Channels []batch.ChannelID           `json:"channels"`
		WindowPs float64                     `json:"window_ps"`
		DelaysPs map[batch.ChannelID]float64 `json:"delays_ps"`
	}
	out := make([]specResponse, 0, len(specs))
	for _, s := range specs {
		out = append(out, specResponse{
			Label:    s.Label,
			Channels: s.Channels,
			WindowPs: s.WindowPs,
			DelaysPs: s.DelaysPs,
		})
	}
	c.JSON(http.StatusOK, gin.H{"specs": out})
}

type delayRequest struct {
	DelayPs *float64 `json:"delay_ps" binding:"required"`
}

// HandleUpdateDelay edits the named spec's partner-channel delay. The edit
// applies from the next chunk.
func (h *Handlers) HandleUpdateDelay(c *gin.Context) {
	var req delayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	label, err := validation.SanitizeLabel(c.Param("label"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.UpdateDelay(label, *req.DelayPs); err != nil {
		if errors.Is(err, pipeline.ErrSpecNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Info("delay updated via api", "label", label, "delay_ps", *req.DelayPs)
	c.JSON(http.StatusOK, gin.H{"label": label, "delay_ps": *req.DelayPs})
}

type exposureRequest struct {
	Seconds *float64 `json:"seconds" binding:"required,gt=0"`
}

// HandleSetExposure changes the capture chunk length.
func (h *Handlers) HandleSetExposure(c *gin.Context) {
	var req exposureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.ctrl.SetExposure(*req.Seconds); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"seconds": *req.Seconds})
}

// HandleHealth is the liveness probe.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleStream upgrades to a websocket and forwards every update as JSON
// until the client disconnects. Delivery is lossless; a stalled client
// backpressures the acquisition loop, so operator dashboards should read
// promptly.
func (h *Handlers) HandleStream(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	if h.tm != nil {
		h.tm.StreamClients.Add(c.Request.Context(), 1)
		defer h.tm.StreamClients.Add(c.Request.Context(), -1)
	}
	h.log.Info("stream client connected", "remote", ws.RemoteAddr().String())

	updates, cancel := h.ctrl.Subscribe()
	defer cancel()

	// Reads only serve to detect disconnection.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-clientGone:
			h.log.Info("stream client disconnected")
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			if err := ws.WriteJSON(h.toResponse(u)); err != nil {
				h.log.Info("stream client write failed", "error", err.Error())
				return
			}
		}
	}
}
