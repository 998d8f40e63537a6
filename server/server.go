// Package server contains misc server utilities.
package server

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// ReplyWithFile replies to the client request by serving the file at path.
// Range and conditional requests are honored
func ReplyWithFile(w http.ResponseWriter, r *http.Request, path string, contentType string) {
	f, err := os.Open(path)
	if err != nil {
		fstr := fmt.Sprintf("source file missing %s", path)
		logrus.Warn(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		fstr := fmt.Sprintf("error retrieving source file stats %s", err)
		logrus.Warn(fstr)
		http.Error(w, fstr, http.StatusNotFound)
		return
	}
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", filepath.Base(path)))
	http.ServeContent(w, r, filepath.Base(path), stat.ModTime(), f)
}

// ReplyWithRender buffers what render writes and serves it, so a failed
// render is still answered with an error status
func ReplyWithRender(w http.ResponseWriter, r *http.Request, name, contentType string, render func(io.Writer) error) {
	buf := &bytes.Buffer{}
	if err := render(buf); err != nil {
		fstr := fmt.Sprintf("error rendering %s: %s", name, err)
		logrus.Warn(fstr)
		http.Error(w, fstr, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	http.ServeContent(w, r, name, time.Now(), bytes.NewReader(buf.Bytes()))
}
