// Package fakeitch serves canned itch.io responses to tests. Requests for
// any host are routed to one httptest server, so code under test keeps
// using real itch.io URLs.
package fakeitch

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// Server is a fake itch.io website and API
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// New starts a server that is closed when the test ends
func New(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

// Handle registers h for requests to host and path, ignoring the query
func (s *Server) Handle(host, path string, h http.HandlerFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[key(host, path)] = h
}

// HTML registers a page served with status 200
func (s *Server) HTML(host, path, body string) {
	s.Handle(host, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(body))
	})
}

// JSON registers a JSON document served with status 200
func (s *Server) JSON(host, path string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	s.Handle(host, path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)
	})
}

// Status registers a bare status response
func (s *Server) Status(host, path string, code int) {
	s.Handle(host, path, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(code)
	})
}

// Hits returns how many requests reached host and path
func (s *Server) Hits(host, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[key(host, path)]
}

// TotalHits returns the number of requests served so far
func (s *Server) TotalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, n := range s.hits {
		total += n
	}
	return total
}

// Client returns an HTTP client whose requests all land on this server
func (s *Server) Client() *http.Client {
	target, _ := url.Parse(s.URL)
	return &http.Client{Transport: &rewriter{target: target, next: s.Server.Client().Transport}}
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	k := key(r.Host, r.URL.Path)

	s.mu.Lock()
	s.hits[k]++
	h, ok := s.handlers[k]
	s.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	h(w, r)
}

func key(host, path string) string {
	if path == "" {
		path = "/"
	}
	return strings.ToLower(host) + path
}

type rewriter struct {
	target *url.URL
	next   http.RoundTripper
}

func (rw *rewriter) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Host = req.URL.Host
	out.URL.Scheme = rw.target.Scheme
	out.URL.Host = rw.target.Host
	return rw.next.RoundTrip(out)
}
