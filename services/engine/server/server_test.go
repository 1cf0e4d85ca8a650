// Copyright (C) 2025 QLaib Lab (dev@qlaib.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qlaiblab/qlaib/pkg/logging"
	"github.com/qlaiblab/qlaib/services/engine/batch"
	"github.com/qlaiblab/qlaib/services/engine/live"
	"github.com/qlaiblab/qlaib/services/engine/metrics"
	"github.com/qlaiblab/qlaib/services/engine/pipeline"
)

// slowBackend serves identical batches forever, pacing so tests can stop
// the loop deterministically.
type slowBackend struct{}

func (slowBackend) Capture(ctx context.Context, exposureSec float64) (*batch.EventBatch, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Millisecond):
	}
	return batch.New(map[batch.ChannelID][]int64{
		1: {100, 500, 10000},
		5: {120, 9980},
	}, 1.0)
}

func (slowBackend) Close() error { return nil }

func testLogger() *logging.Logger {
	return logging.New(logging.Config{Level: logging.LevelError, Service: "test", Quiet: true})
}

func testController(t *testing.T) *live.Controller {
	t.Helper()
	pipe, err := pipeline.New([]pipeline.Spec{
		{Label: "HH", Channels: []batch.ChannelID{1, 5}, WindowPs: 50},
		{Label: "HV", Channels: []batch.ChannelID{1, 6}, WindowPs: 50},
	}, pipeline.WithAccidentals())
	require.NoError(t, err)
	return live.NewController(slowBackend{}, pipe, metrics.NewDefaultRegistry(), testLogger())
}

func sampleResult(t *testing.T) *pipeline.Result {
	t.Helper()
	return &pipeline.Result{
		BatchID:     "b-1",
		DurationSec: 1,
		Singles:     map[batch.ChannelID]int{5: 2, 1: 3},
		Counts:      map[string]int{"HH": 2, "HV": 0},
		Accidentals: map[string]float64{"HH": 1.254, "HV": 0.5},
	}
}

func TestFormatReport(t *testing.T) {
	got := FormatReport(sampleResult(t), []string{"HH", "HV"})
	assert.Equal(t, "Channel1: 3, Channel5: 2, HH: 2, HV: 0, HH_acc: 1.25, HV_acc: 0.50", got,
		"accidentals trail the counts as a block")
}

func TestFormatReportNoAccidentals(t *testing.T) {
	res := sampleResult(t)
	res.Accidentals = nil
	got := FormatReport(res, []string{"HH"})
	assert.Equal(t, "Channel1: 3, Channel5: 2, HH: 2", got)
}

func testRouter(t *testing.T, ctrl *live.Controller) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	return NewRouter(NewHandlers(ctrl, nil, testLogger()), nil)
}

func TestLatestResultEmpty(t *testing.T) {
	router := testRouter(t, testController(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/results/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLatestResult(t *testing.T) {
	ctrl := testController(t)
	ctrl.History().Add(live.Update{Seq: 7, Result: sampleResult(t)})

	router := testRouter(t, ctrl)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/results/latest", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp ResultResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(7), resp.Seq)
	assert.Equal(t, 2, resp.Counts["HH"])
	assert.Contains(t, resp.Report, "HH: 2")
}

func TestRecentResults(t *testing.T) {
	ctrl := testController(t)
	for seq := int64(1); seq <= 3; seq++ {
		ctrl.History().Add(live.Update{Seq: seq, Result: sampleResult(t)})
	}

	router := testRouter(t, ctrl)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/results/recent?n=2", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Results []ResultResponse `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, int64(2), resp.Results[0].Seq, "oldest first")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/results/recent?n=bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLabelsAndSpecs(t *testing.T) {
	router := testRouter(t, testController(t))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/labels", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"labels":["HH","HV"]}`, w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/specs", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"window_ps":50`)
}

func TestUpdateDelayEndpoint(t *testing.T) {
	ctrl := testController(t)
	router := testRouter(t, ctrl)

	body := strings.NewReader(`{"delay_ps": 12.5}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/specs/HH/delay", body))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 12.5, ctrl.Pipeline().Specs()[0].DelaysPs[5])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/specs/nope/delay",
		strings.NewReader(`{"delay_ps": 1}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/specs/HH/delay",
		strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code, "delay_ps is required")
}

func TestExposureEndpoint(t *testing.T) {
	ctrl := testController(t)
	router := testRouter(t, ctrl)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/exposure",
		strings.NewReader(`{"seconds": 2.5}`)))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.5, ctrl.Exposure())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/v1/exposure",
		strings.NewReader(`{"seconds": -1}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	router := testRouter(t, testController(t))
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestTCPProtocol(t *testing.T) {
	ctrl := testController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- ctrl.Run(ctx) }()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := NewTCPServer(ctrl, testLogger())
	go srv.Serve(ctx, ln)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	reader := bufio.NewReader(conn)

	send := func(line string) {
		_, err := conn.Write([]byte(line + "\n"))
		require.NoError(t, err)
	}
	recv := func() string {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		return strings.TrimRight(line, "\n")
	}

	send("EXPOSURE0.01")
	assert.Equal(t, "Exposure time is 0.01 s.", recv())

	send("EXPOSUREabc")
	assert.Equal(t, "Invalid exposure time value.", recv())

	send("BOGUS")
	assert.Equal(t, "Unknown command", recv())

	// One report per request, nothing unsolicited in between.
	send("GATHER DATA")
	report := recv()
	assert.Contains(t, report, "Channel1: 3")
	assert.Contains(t, report, "HH: 2")

	send("GATHER DATA")
	assert.Contains(t, recv(), "HH: 2")

	send("STOP")
	assert.Equal(t, "Ending recording now.", recv())

	// STOP halts acquisition and the server hangs up.
	_, err = reader.ReadString('\n')
	assert.Error(t, err, "connection closed after STOP")
	select {
	case err := <-runDone:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("acquisition loop still running after STOP")
	}
}

func TestStreamWebsocket(t *testing.T) {
	ctrl := testController(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	srv := httptest.NewServer(testRouter(t, ctrl))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/stream"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()

	ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	var first, second ResultResponse
	require.NoError(t, ws.ReadJSON(&first))
	require.NoError(t, ws.ReadJSON(&second))
	assert.Equal(t, 2, first.Counts["HH"])
	assert.Equal(t, first.Seq+1, second.Seq, "stream is lossless and in order")
	assert.NotEmpty(t, first.Metrics)
}
