// Package version derives release version strings and artifact names from
// git tags.
package version

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// FromTag converts a tag into a version string by removing every literal
// "v" character. This mirrors the shell expansion ${tag//v/} used by the
// original release script: the stripping is global, not prefix-only, so a
// stray "v" inside the tag is removed as well. Callers that need to reject
// such tags should validate with IsExact first.
func FromTag(tag string) string {
	return strings.ReplaceAll(tag, "v", "")
}

// ArchiveName returns the canonical source archive name for a release.
func ArchiveName(repo, version string) string {
	return fmt.Sprintf("%s-%s.tar.gz", repo, version)
}

// ManifestName returns the name of the release manifest written next to an
// archive.
func ManifestName(archiveName string) string {
	return archiveName + ".manifest.json"
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName canonicalizes a project name for the package index:
// unicode NFKC normalization, lowercase, and runs of separator characters
// collapsed to a single hyphen.
func NormalizeName(name string) string {
	n := norm.NFKC.String(name)
	n = strings.ToLower(strings.TrimSpace(n))
	return nameSeparators.ReplaceAllString(n, "-")
}

var exactTagPattern = regexp.MustCompile(`^v\d+(\.\d+)*$`)

// IsExact reports whether a tag has the expected release shape: a "v"
// prefix followed by dotted digits. The pipeline guard itself only asks
// whether HEAD carries any tag; this check is for config validation and
// daemon-side filtering of non-release tags.
func IsExact(tag string) bool {
	return exactTagPattern.MatchString(tag)
}
