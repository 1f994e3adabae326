// Package changelog extracts per-release notes from a CHANGELOG file by
// locating the heading that names the released version.
package changelog

import (
	"bytes"
	"os"
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	gmtext "github.com/yuin/goldmark/text"
)

type section struct {
	level     int
	title     string
	lineStart int // offset of the '#' introducing the heading
	bodyStart int // offset just past the heading line
}

// NotesFor returns the changelog section for version (heading forms
// "1.2.3", "v1.2.3" and "[1.2.3]" are accepted, with trailing date noise
// ignored). A missing file or section yields "" without error: release
// notes are an enrichment, not a gate.
func NotesFor(path, version string) (string, error) {
	if path == "" || version == "" {
		return "", nil
	}
	source, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", err
	}
	return extract(source, version), nil
}

func extract(source []byte, version string) string {
	md := goldmark.New()
	root := md.Parser().Parse(gmtext.NewReader(source))

	var sections []section
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		h, ok := n.(*gmast.Heading)
		if !ok || h.Lines().Len() == 0 {
			return gmast.WalkContinue, nil
		}
		seg := h.Lines().At(h.Lines().Len() - 1)
		first := h.Lines().At(0)
		lineStart := bytes.LastIndexByte(source[:first.Start], '\n') + 1
		sections = append(sections, section{
			level:     h.Level,
			title:     strings.TrimSpace(string(source[first.Start:seg.Stop])),
			lineStart: lineStart,
			bodyStart: seg.Stop,
		})
		return gmast.WalkSkipChildren, nil
	})

	for i, s := range sections {
		if !headingMatches(s.title, version) {
			continue
		}
		end := len(source)
		for _, next := range sections[i+1:] {
			if next.level <= s.level {
				end = next.lineStart
				break
			}
		}
		return strings.TrimSpace(string(source[s.bodyStart:end]))
	}
	return ""
}

// headingMatches checks the first token of a heading against the version,
// tolerating "v" prefixes and keep-a-changelog style brackets.
func headingMatches(title, version string) bool {
	fields := strings.Fields(title)
	if len(fields) == 0 {
		return false
	}
	candidate := strings.Trim(fields[0], "[]()")
	if candidate == version {
		return true
	}
	return strings.TrimPrefix(candidate, "v") == version
}
