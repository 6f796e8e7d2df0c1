package site

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSite(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	index := `<p>Up to {{MAX_MEDICINES}} medicines, signature up to {{MAX_SIGNATURE_KB}} KB. {{UNKNOWN}}</p>`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"), []byte(index), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("console.log(1)"), 0o644))
	return dir
}

func serve(h http.Handler, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestPlaceholders(t *testing.T) {
	vars := Placeholders(20, 300_000)
	assert.Equal(t, "20", vars["MAX_MEDICINES"])
	assert.Equal(t, "292", vars["MAX_SIGNATURE_KB"])
}

func TestIndexIsTemplated(t *testing.T) {
	s, err := New(writeSite(t), Placeholders(20, 300_000))
	require.NoError(t, err)

	for _, target := range []string{"/", "/index.html"} {
		rec := serve(s, http.MethodGet, target)
		assert.Equal(t, http.StatusOK, rec.Code, target)
		assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
		assert.Equal(t, "<p>Up to 20 medicines, signature up to 292 KB. {{UNKNOWN}}</p>", rec.Body.String())
	}

	rec := serve(s, http.MethodHead, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestStaticFiles(t *testing.T) {
	s, err := New(writeSite(t), nil)
	require.NoError(t, err)

	rec := serve(s, http.MethodGet, "/assets/app.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log(1)", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/assets/").Code)
	assert.Equal(t, http.StatusNotFound, serve(s, http.MethodGet, "/missing.css").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(s, http.MethodPost, "/").Code)
}

func TestMissingIndex(t *testing.T) {
	_, err := New(t.TempDir(), nil)
	assert.True(t, errors.Is(err, ErrIndexMissing))
}
