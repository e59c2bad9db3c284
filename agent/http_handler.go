// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"net/http"
)

// PurgeResponse is returned by the purge endpoint.
type PurgeResponse struct {
	Purged int `codec:"purged"`
}

// DisplayMetrics satisfies the DisplayMetrics function on the
// agentHTTP.AgentHTTP interface.
func (a *Agent) DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	return a.inMemSink.DisplayMetrics(resp, req)
}

// PurgeWorkers satisfies the PurgeWorkers function on the agentHTTP.AgentHTTP
// interface. The purge is not aborted when the client goes away.
func (a *Agent) PurgeWorkers(_ http.ResponseWriter, req *http.Request) (interface{}, error) {
	n, err := a.purge(context.WithoutCancel(req.Context()))
	if err != nil {
		return nil, err
	}
	return &PurgeResponse{Purged: n}, nil
}

// AgentStatus satisfies the AgentStatus function on the agentHTTP.AgentHTTP
// interface.
func (a *Agent) AgentStatus(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	return a.Status(), nil
}
