package changelog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleChangelog = `# Changelog

All notable changes to this project.

## [1.2.3] - 2024-03-01

### Added

- SRA export command.

### Fixed

- Tag parsing for lightweight tags.

## v1.2.2

- Maintenance release.

## 1.2.1

Initial public release.
`

func writeChangelog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "CHANGELOG.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNotesForBracketedHeading(t *testing.T) {
	path := writeChangelog(t, sampleChangelog)
	notes, err := NotesFor(path, "1.2.3")
	require.NoError(t, err)
	assert.Contains(t, notes, "SRA export command")
	assert.Contains(t, notes, "Tag parsing for lightweight tags")
	assert.NotContains(t, notes, "Maintenance release")
}

func TestNotesForPrefixedHeading(t *testing.T) {
	path := writeChangelog(t, sampleChangelog)
	notes, err := NotesFor(path, "1.2.2")
	require.NoError(t, err)
	assert.Equal(t, "- Maintenance release.", notes)
}

func TestNotesForLastSectionRunsToEOF(t *testing.T) {
	path := writeChangelog(t, sampleChangelog)
	notes, err := NotesFor(path, "1.2.1")
	require.NoError(t, err)
	assert.Equal(t, "Initial public release.", notes)
}

func TestNotesForMissingSection(t *testing.T) {
	path := writeChangelog(t, sampleChangelog)
	notes, err := NotesFor(path, "9.9.9")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestNotesForMissingFile(t *testing.T) {
	notes, err := NotesFor(filepath.Join(t.TempDir(), "nope.md"), "1.0")
	require.NoError(t, err)
	assert.Empty(t, notes)
}

func TestNotesForEmptyInputs(t *testing.T) {
	notes, err := NotesFor("", "1.0")
	require.NoError(t, err)
	assert.Empty(t, notes)

	notes, err = NotesFor("CHANGELOG.md", "")
	require.NoError(t, err)
	assert.Empty(t, notes)
}
