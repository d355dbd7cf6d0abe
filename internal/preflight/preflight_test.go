package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCheckNoOpWhenNoLanguageMarkersPresent(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Check(t.Context(), dir))
}

func TestHasPythonFilesDetectsPyFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "app.py"), []byte("print(1)"), 0o644))
	require.True(t, hasPythonFiles(dir))
}

func TestFileExists(t *testing.T) {
	dir := t.TempDir()
	require.False(t, fileExists(filepath.Join(dir, "go.mod")))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module x"), 0o644))
	require.True(t, fileExists(filepath.Join(dir, "go.mod")))
}
