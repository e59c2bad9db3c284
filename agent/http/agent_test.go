// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_agentPurge(t *testing.T) {
	testCases := []struct {
		inputReq         *http.Request
		expectedRespCode int
		expectedRespBody string
		name             string
	}{
		{
			inputReq:         httptest.NewRequest("PUT", "/v1/agent/purge", nil),
			expectedRespCode: 200,
			expectedRespBody: `{"purged":3}`,
			name:             "successful purge using PUT",
		},
		{
			inputReq:         httptest.NewRequest("POST", "/v1/agent/purge", nil),
			expectedRespCode: 200,
			expectedRespBody: `{"purged":3}`,
			name:             "successful purge using POST",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/agent/purge", nil),
			expectedRespCode: 405,
			expectedRespBody: errInvalidMethod,
			name:             "incorrect request method",
		},
	}

	srv, agent, stopSrv := TestServer(t, false)
	defer stopSrv()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, tc.inputReq)
			assert.Equal(tc.expectedRespCode, w.Code)
			assert.Contains(w.Body.String(), tc.expectedRespBody)
		})
	}
	assert.Equal(t, int32(2), agent.purges.Load())
}

func TestServer_agentPurge_error(t *testing.T) {
	srv, agent, stopSrv := TestServer(t, false)
	defer stopSrv()
	agent.purgeErr = errors.New("docker daemon unreachable")

	w := httptest.NewRecorder()
	srv.mux.ServeHTTP(w, httptest.NewRequest("POST", "/v1/agent/purge", nil))
	assert.Equal(t, 500, w.Code)
	assert.Equal(t, "docker daemon unreachable", w.Body.String())
}

func TestServer_agentStatus(t *testing.T) {
	testCases := []struct {
		inputReq         *http.Request
		expectedRespCode int
		expectedRespBody string
		name             string
	}{
		{
			inputReq:         httptest.NewRequest("GET", "/v1/agent/status", nil),
			expectedRespCode: 200,
			expectedRespBody: `"id":"0123456789ab"`,
			name:             "successful status",
		},
		{
			inputReq:         httptest.NewRequest("DELETE", "/v1/agent/status", nil),
			expectedRespCode: 405,
			expectedRespBody: errInvalidMethod,
			name:             "incorrect request method",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/agent/reload", nil),
			expectedRespCode: 404,
			name:             "unknown agent endpoint",
		},
	}

	srv, _, stopSrv := TestServer(t, false)
	defer stopSrv()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, tc.inputReq)
			assert.Equal(tc.expectedRespCode, w.Code)
			assert.Contains(w.Body.String(), tc.expectedRespBody)
			if w.Code == 200 {
				assert.Equal("application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
