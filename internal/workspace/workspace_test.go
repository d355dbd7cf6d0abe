package workspace

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateNamingAndExclusivity(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	ws, err := m.Allocate("https://github.com/Acme-Org/Widget-Service.git")
	require.NoError(t, err)
	assert.Equal(t, "widget-service", ws.Slug)
	assert.True(t, strings.HasPrefix(filepath.Base(ws.Path), "widget-service-ws-"))

	_, statErr := os.Stat(ws.Path)
	require.NoError(t, statErr)
}

func TestReleaseRefusesPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	outside := t.TempDir()
	ws := &Workspace{Path: outside, Slug: "x"}
	err := m.Release(ws)
	require.Error(t, err)

	_, statErr := os.Stat(outside)
	assert.NoError(t, statErr, "outside directory must not be removed")
}

func TestReleaseRemovesAllocatedWorkspace(t *testing.T) {
	root := t.TempDir()
	m := New(root)

	ws, err := m.Allocate("git@gitlab.com:team/proj.git")
	require.NoError(t, err)
	require.NoError(t, m.Release(ws))

	_, statErr := os.Stat(ws.Path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRepoSlugBounded(t *testing.T) {
	slug := repoSlug("https://example.com/" + strings.Repeat("a", 50))
	assert.LessOrEqual(t, len(slug), MaxSlugLen)
}
