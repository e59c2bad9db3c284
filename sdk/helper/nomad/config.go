// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package nomad

import (
	"strings"

	"github.com/hashicorp/nomad/api"
	"github.com/hashicorp/queue-autoscaler/agent/config"
)

// HTTPAuthFromString take an input string, and converts this to a Nomad API
// representation of basic HTTP auth.
func HTTPAuthFromString(auth string) *api.HttpBasicAuth {
	if auth == "" {
		return nil
	}

	var username, password string
	if strings.Contains(auth, ":") {
		split := strings.SplitN(auth, ":", 2)
		username = split[0]
		password = split[1]
	} else {
		username = auth
	}

	return &api.HttpBasicAuth{
		Username: username,
		Password: password,
	}
}

// MergeDefaultWithAgentConfig merges the agent Nomad configuration with the
// default Nomad API configuration. The agent config takes precedence over the
// default config as any user supplied variables should override those
// configured by default or discovered via env vars within the Nomad API
// config.
func MergeDefaultWithAgentConfig(agentCfg *config.Nomad) *api.Config {

	// Use the Nomad API default config which gets populated by defaults and
	// also checks for environment variables.
	cfg := api.DefaultConfig()

	if agentCfg == nil {
		return cfg
	}

	// Merge our top level configuration options in.
	if agentCfg.Address != "" {
		cfg.Address = agentCfg.Address
	}
	if agentCfg.Region != "" {
		cfg.Region = agentCfg.Region
	}
	if agentCfg.Namespace != "" {
		cfg.Namespace = agentCfg.Namespace
	}
	if agentCfg.Token != "" {
		cfg.SecretID = agentCfg.Token
	}

	// Merge HTTP auth.
	if agentCfg.HTTPAuth != "" {
		cfg.HttpAuth = HTTPAuthFromString(agentCfg.HTTPAuth)
	}

	// Merge TLS. The default config has an empty TLS object and therefore does
	// not required a nil check.
	if agentCfg.CACert != "" {
		cfg.TLSConfig.CACert = agentCfg.CACert
	}
	if agentCfg.CAPath != "" {
		cfg.TLSConfig.CAPath = agentCfg.CAPath
	}
	if agentCfg.ClientCert != "" {
		cfg.TLSConfig.ClientCert = agentCfg.ClientCert
	}
	if agentCfg.ClientKey != "" {
		cfg.TLSConfig.ClientKey = agentCfg.ClientKey
	}
	if agentCfg.TLSServerName != "" {
		cfg.TLSConfig.TLSServerName = agentCfg.TLSServerName
	}
	if agentCfg.SkipVerify {
		cfg.TLSConfig.Insecure = agentCfg.SkipVerify
	}

	return cfg
}
