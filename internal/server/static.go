package server

import (
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"
)

const staticIndex = "index.html"

var staticEncodings = []struct {
	token string
	ext   string
}{
	{token: "br", ext: ".br"},
	{token: "gzip", ext: ".gz"},
}

// staticFiles serves a web client from root. Paths that name no file fall
// back to index.html. Precompressed .br and .gz siblings are preferred when
// the request accepts them.
type staticFiles struct {
	root fs.FS
}

func (h staticFiles) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
	if name == "" {
		name = staticIndex
	}

	if h.serve(w, r, name) || h.serve(w, r, staticIndex) {
		return
	}

	http.NotFound(w, r)
}

func (h staticFiles) serve(w http.ResponseWriter, r *http.Request, name string) bool {
	accept := r.Header.Get("Accept-Encoding")

	for _, enc := range staticEncodings {
		if strings.Contains(accept, enc.token) && h.serveFile(w, r, name+enc.ext, name, enc.token) {
			return true
		}
	}

	return h.serveFile(w, r, name, name, "")
}

func (h staticFiles) serveFile(w http.ResponseWriter, r *http.Request, file, name, encoding string) bool {
	f, err := h.root.Open(file)
	if err != nil {
		return false
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		return false
	}

	content, ok := f.(io.ReadSeeker)
	if !ok {
		return false
	}

	if encoding != "" {
		w.Header().Set("Content-Encoding", encoding)
		w.Header().Add("Vary", "Accept-Encoding")
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}

	http.ServeContent(w, r, name, info.ModTime(), content)
	return true
}
