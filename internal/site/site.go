// Package site serves the static front-end. The index page is rendered once
// with the service limits substituted for its placeholder tokens.
package site

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
)

const indexFile = "index.html"

var ErrIndexMissing = errors.New("static index missing")

// Placeholders returns the token values substituted into the index page.
func Placeholders(maxMedicines, maxSignatureBytes int) map[string]string {
	return map[string]string{
		"MAX_MEDICINES":    strconv.Itoa(maxMedicines),
		"MAX_SIGNATURE_KB": strconv.Itoa(maxSignatureBytes / 1024),
	}
}

type Site struct {
	index []byte
	files http.Handler
}

// New reads dir/index.html and replaces each {{KEY}} with vars[KEY].
func New(dir string, vars map[string]string) (*Site, error) {
	raw, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexMissing, err)
	}

	pairs := make([]string, 0, len(vars)*2)
	for key, value := range vars {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	rendered := strings.NewReplacer(pairs...).Replace(string(raw))

	return &Site{
		index: []byte(rendered),
		files: http.FileServer(noListing{http.Dir(dir)}),
	}, nil
}

func (s *Site) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	switch path.Clean("/" + r.URL.Path) {
	case "/", "/" + indexFile:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Content-Length", strconv.Itoa(len(s.index)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(s.index)
		}
	default:
		s.files.ServeHTTP(w, r)
	}
}

// noListing hides directories that have no index of their own.
type noListing struct {
	fs http.FileSystem
}

func (n noListing) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		index, err := n.fs.Open(path.Join(name, indexFile))
		if err != nil {
			f.Close()
			return nil, fs.ErrNotExist
		}
		index.Close()
	}
	return f, nil
}
