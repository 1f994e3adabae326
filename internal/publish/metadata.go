// Package publish pushes release artifacts to their external destinations:
// the artifact host (raw archive storage) and the package index (sdist
// publication, twine-compatible).
package publish

import (
	"os"
	"strings"
)

// Metadata describes a source distribution as the package index sees it.
type Metadata struct {
	Name        string
	Version     string
	Summary     string
	Description string
	License     string
	Homepage    string
}

// WithDescription fills Description from the project README, appending the
// changelog notes for this release when present. Either source may be
// missing; the result is best-effort.
func (m Metadata) WithDescription(readmePath, notes string) Metadata {
	var parts []string
	if readmePath != "" {
		if data, err := os.ReadFile(readmePath); err == nil {
			parts = append(parts, strings.TrimSpace(string(data)))
		}
	}
	if notes != "" {
		parts = append(parts, "## Release notes\n\n"+notes)
	}
	m.Description = strings.Join(parts, "\n\n")
	return m
}
