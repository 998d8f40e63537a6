package server

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "m0001.fits")
	require.NoError(t, os.WriteFile(path, []byte("SIMPLE  =                    T"), 0644))

	w := httptest.NewRecorder()
	ReplyWithFile(w, httptest.NewRequest(http.MethodGet, "/frame", nil), path, "application/fits")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/fits", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "m0001.fits")
	assert.Equal(t, "SIMPLE  =                    T", w.Body.String())

	w = httptest.NewRecorder()
	ReplyWithFile(w, httptest.NewRequest(http.MethodGet, "/frame", nil), path+".gone", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestReplyWithRender(t *testing.T) {
	w := httptest.NewRecorder()
	ReplyWithRender(w, httptest.NewRequest(http.MethodGet, "/qa", nil), "qa.png", "image/png", func(out io.Writer) error {
		_, err := out.Write([]byte("png"))
		return err
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	assert.Equal(t, "png", w.Body.String())

	w = httptest.NewRecorder()
	ReplyWithRender(w, httptest.NewRequest(http.MethodGet, "/qa", nil), "qa.png", "image/png", func(out io.Writer) error {
		out.Write([]byte("partial"))
		return errors.New("no bars")
	})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "partial")
}
