package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEphemeralWorkspaceLifecycle(t *testing.T) {
	base := t.TempDir()
	m := NewManager(base)

	require.NoError(t, m.Create())
	path := m.GetPath()
	assert.True(t, strings.HasPrefix(filepath.Base(path), "relbuilder-"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	require.NoError(t, m.Cleanup())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.Empty(t, m.GetPath())
}

func TestPersistentWorkspaceSurvivesCleanup(t *testing.T) {
	base := t.TempDir()
	m := NewPersistentManager(base, "checkout")

	require.NoError(t, m.Create())
	path := m.GetPath()
	assert.Equal(t, filepath.Join(base, "checkout"), path)

	require.NoError(t, m.Cleanup())
	_, err := os.Stat(path)
	assert.NoError(t, err, "persistent workspace must survive cleanup")
}

func TestCreateSubdir(t *testing.T) {
	m := NewManager(t.TempDir())

	_, err := m.CreateSubdir("dist")
	assert.Error(t, err, "subdir before Create must fail")

	require.NoError(t, m.Create())
	defer func() { _ = m.Cleanup() }()

	sub, err := m.CreateSubdir("dist")
	require.NoError(t, err)
	info, err := os.Stat(sub)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
