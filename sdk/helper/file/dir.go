// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package file

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// GetFileListFromDir returns the paths of the regular files in dir whose name
// ends with one of suffixes, skipping editor temporary files. Paths are
// sorted by name so configuration files are always merged in the same order.
func GetFileListFromDir(dir string, suffixes ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		fi, statErr := os.Stat(dir)
		if statErr == nil && !fi.IsDir() {
			return nil, fmt.Errorf("configuration path must be a directory: %s", dir)
		}
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()
		if !fileHasSuffix(name, suffixes) || IsTemporaryFile(name) {
			continue
		}
		files = append(files, filepath.Join(dir, name))
	}

	sort.Strings(files)
	return files, nil
}

func fileHasSuffix(file string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(file, suffix) {
			return true
		}
	}
	return false
}
