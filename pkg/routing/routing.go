package routing

import (
	"net/http"
	"path"
	"strings"
)

// NormalizedServeMux wraps http.ServeMux and cleans request paths before
// dispatch, so routes registered once also match sloppy client paths
// containing duplicate slashes or dot segments.
type NormalizedServeMux struct {
	mux *http.ServeMux
}

func NewNormalizedServeMux() *NormalizedServeMux {
	return &NormalizedServeMux{mux: http.NewServeMux()}
}

func (m *NormalizedServeMux) Handle(pattern string, handler http.Handler) {
	m.mux.Handle(pattern, handler)
}

func (m *NormalizedServeMux) HandleFunc(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	m.mux.HandleFunc(pattern, handler)
}

func (m *NormalizedServeMux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p := normalizePath(r.URL.Path); p != r.URL.Path {
		r.URL.Path = p
	}
	m.mux.ServeHTTP(w, r)
}

func normalizePath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.Contains(p, "//") && !strings.Contains(p, "./") {
		return p
	}
	clean := path.Clean(p)
	// path.Clean strips the trailing slash that subtree patterns rely on.
	if clean != "/" && strings.HasSuffix(p, "/") {
		clean += "/"
	}
	return clean
}
