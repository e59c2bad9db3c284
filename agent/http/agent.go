// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"strings"
)

// agentSpecificRequest handles the requests for the `/v1/agent/` endpoint and sub-paths.
func (s *Server) agentSpecificRequest(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/agent")
	switch path {
	case "/purge":
		return s.agentPurge(w, r)
	case "/status":
		return s.agentStatus(w, r)
	default:
		return nil, newCodedError(http.StatusNotFound, "")
	}
}

func (s *Server) agentPurge(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	if r.Method != http.MethodPost && r.Method != http.MethodPut {
		return nil, newCodedError(http.StatusMethodNotAllowed, errInvalidMethod)
	}

	return s.agent.PurgeWorkers(w, r)
}

func (s *Server) agentStatus(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	if r.Method != http.MethodGet {
		return nil, newCodedError(http.StatusMethodNotAllowed, errInvalidMethod)
	}

	return s.agent.AgentStatus(w, r)
}
