package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromTag(t *testing.T) {
	cases := []struct {
		tag  string
		want string
	}{
		{"v1.2.3", "1.2.3"},
		{"v1.0", "1.0"},
		{"1.2.3", "1.2.3"},
		{"", ""},
		// Global stripping, matching the shell ${tag//v/} expansion:
		// every "v" goes, not just the prefix.
		{"v1.2v3", "1.23"},
		{"vv2.0", "2.0"},
	}
	for _, tc := range cases {
		t.Run(tc.tag, func(t *testing.T) {
			assert.Equal(t, tc.want, FromTag(tc.tag))
		})
	}
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "labxdb-1.0.tar.gz", ArchiveName("labxdb", "1.0"))
	assert.Equal(t, "labxdb-1.0.tar.gz.manifest.json", ManifestName(ArchiveName("labxdb", "1.0")))
}

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"LabXDB", "labxdb"},
		{"my_project", "my-project"},
		{"my..weird__name", "my-weird-name"},
		{"  Spaced  ", "spaced"},
		{"ﬁle-utils", "file-utils"}, // NFKC expands the ligature
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, NormalizeName(tc.in), "input %q", tc.in)
	}
}

func TestIsExact(t *testing.T) {
	assert.True(t, IsExact("v1.2.3"))
	assert.True(t, IsExact("v1"))
	assert.True(t, IsExact("v1.0.0.4"))
	assert.False(t, IsExact("1.2.3"))
	assert.False(t, IsExact("v1.2.3-rc1"))
	assert.False(t, IsExact("v1.2v3"))
	assert.False(t, IsExact(""))
}
