package api

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticHandlerServesFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte("<h1>dashboard</h1>"), 0o644))

	h := newStaticHandler(dir)
	req := httptest.NewRequest(http.MethodGet, "/index.html", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashboard")
}

func TestStaticHandlerRejectsPathTraversal(t *testing.T) {
	dir := t.TempDir()
	secret := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(secret, "token"), []byte("sensitive"), 0o644))

	h := newStaticHandler(dir)
	req := httptest.NewRequest(http.MethodGet, "/../"+filepath.Base(secret)+"/token", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.NotEqual(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "sensitive")
}

func TestSanitizeSummaryHTMLStripsScript(t *testing.T) {
	out, err := sanitizeSummaryHTML(`<p onclick="evil()">hello</p><script>evil()</script>`)
	require.NoError(t, err)
	assert.Contains(t, out, "hello")
	assert.NotContains(t, out, "script")
	assert.NotContains(t, out, "onclick")
}
