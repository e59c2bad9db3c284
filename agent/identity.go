// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"bufio"
	"os"
	"strings"
)

const (
	defaultCgroupPath = "/proc/self/cgroup"

	// shortIDLen is the length of the short form of a container ID.
	shortIDLen = 12

	unknownAgentID = "unknown"
)

// resolveAgentID returns the short container ID when running inside a
// container, falling back to the hostname.
func resolveAgentID(cgroupPath string, hostname func() (string, error)) string {
	if id := containerIDFromCgroup(cgroupPath); id != "" {
		return id
	}

	name, err := hostname()
	if err != nil || name == "" {
		return unknownAgentID
	}
	if len(name) > shortIDLen {
		return name[:shortIDLen]
	}
	return name
}

// containerIDFromCgroup looks for a docker cgroup entry ending in a full
// 64 character container ID.
func containerIDFromCgroup(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return ""
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.Contains(line, "docker") {
			continue
		}

		id := line[strings.LastIndex(line, "/")+1:]
		id = strings.TrimSuffix(strings.TrimPrefix(id, "docker-"), ".scope")
		if len(id) == 64 {
			return id[:shortIDLen]
		}
	}
	return ""
}
