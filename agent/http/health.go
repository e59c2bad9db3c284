// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"sync/atomic"
)

// HealthResponse is the body returned by the health endpoint when the agent
// is serving.
type HealthResponse struct {
	Status string `codec:"status"`
}

// getHealth reports whether the HTTP server is serving. Broker and fleet
// backend failures are reported by the agent status endpoint, not here.
func (s *Server) getHealth(_ http.ResponseWriter, r *http.Request) (interface{}, error) {
	if r.Method != http.MethodGet {
		return nil, newCodedError(http.StatusMethodNotAllowed, errInvalidMethod)
	}

	if atomic.LoadInt32(&s.aliveness) != healthAlivenessReady {
		return nil, newCodedError(http.StatusServiceUnavailable, "Service unavailable")
	}
	return &HealthResponse{Status: "ok"}, nil
}
