// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/telekom/logmail/pkg/mail"
	"github.com/telekom/logmail/pkg/stream"
	"github.com/telekom/logmail/pkg/system"
)

type fakeStatus struct {
	state   stream.State
	pending int
}

func (f fakeStatus) State() stream.State { return f.state }
func (f fakeStatus) Pending() int        { return f.pending }
func (f fakeStatus) Transport() string   { return "stub" }

func serve(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestNewServer(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for _, debug := range []bool{true, false} {
		server := NewServer(zaptest.NewLogger(t), ":0", fakeStatus{}, debug)
		require.NotNil(t, server)
		assert.NotNil(t, server.gin)
		assert.Equal(t, ":0", server.srv.Addr)
	}
}

func TestServer_Healthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), ":0", nil, false)

	w := serve(t, server, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	tests := []struct {
		name   string
		status StreamStatus
		want   int
	}{
		{name: "open", status: fakeStatus{state: stream.StateOpen}, want: http.StatusOK},
		{name: "ending", status: fakeStatus{state: stream.StateEnding}, want: http.StatusServiceUnavailable},
		{name: "closed", status: fakeStatus{state: stream.StateClosed}, want: http.StatusServiceUnavailable},
		{name: "no stream", status: nil, want: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(zaptest.NewLogger(t), ":0", tt.status, false)
			assert.Equal(t, tt.want, serve(t, server, "/readyz").Code)
		})
	}
}

func TestServer_Status(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), ":0", fakeStatus{state: stream.StateEnding, pending: 3}, false)

	w := serve(t, server, "/api/status")
	require.Equal(t, http.StatusOK, w.Code)

	var st Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	assert.Equal(t, Status{State: "ending", Pending: 3, Transport: "stub", Version: system.Version}, st)
}

func TestServer_StatusWithRealStream(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s, err := stream.NewWithTransport(
		mail.Options{From: "a@example.com", To: []string{"b@example.com"}},
		mail.NewStubTransport(mail.StubConfig{}),
		system.NewTestLogger(),
	)
	require.NoError(t, err)
	server := NewServer(zaptest.NewLogger(t), ":0", s, false)

	assert.Equal(t, http.StatusOK, serve(t, server, "/readyz").Code)
	require.NoError(t, s.End(context.Background()))
	assert.Equal(t, http.StatusServiceUnavailable, serve(t, server, "/readyz").Code)
}

func TestServer_Metrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), ":0", nil, false)

	w := serve(t, server, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestServer_StartAndShutdown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), "127.0.0.1:0", nil, false)

	require.NoError(t, server.Start())
	assert.NoError(t, server.Shutdown(context.Background()))
}

func TestServer_StartBindError(t *testing.T) {
	gin.SetMode(gin.TestMode)
	server := NewServer(zaptest.NewLogger(t), "256.0.0.1:http", nil, false)

	assert.Error(t, server.Start())
}
