package pathsafe

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRepo(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "src", "pkg", "main.go"), []byte("package pkg"), 0o644))
	return root
}

func TestResolveExactPath(t *testing.T) {
	root := setupRepo(t)
	abs, err := Resolve(root, "src/pkg/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "pkg", "main.go"), abs)
}

func TestResolveStripsRepoPrefix(t *testing.T) {
	root := setupRepo(t)
	abs, err := Resolve(root, "repo/src/pkg/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "pkg", "main.go"), abs)
}

func TestResolveBackslashesAndDotSlash(t *testing.T) {
	root := setupRepo(t)
	abs, err := Resolve(root, `./src\pkg\main.go`)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "pkg", "main.go"), abs)
}

func TestResolveSuffixCandidate(t *testing.T) {
	root := setupRepo(t)
	abs, err := Resolve(root, "some/unrelated/prefix/src/pkg/main.go")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "src", "pkg", "main.go"), abs)
}

func TestResolveRejectsAbsolutePath(t *testing.T) {
	root := setupRepo(t)
	_, err := Resolve(root, "/etc/passwd")
	require.Error(t, err)
}

func TestResolveRejectsEscapingPath(t *testing.T) {
	root := setupRepo(t)
	_, err := Resolve(root, "../../etc/passwd")
	require.Error(t, err)
}

func TestResolveFailsWhenNoCandidateExists(t *testing.T) {
	root := setupRepo(t)
	_, err := Resolve(root, "does/not/exist.go")
	require.Error(t, err)
}
