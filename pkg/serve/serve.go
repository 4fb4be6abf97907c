// Package serve is the HTTP front door: it owns the net/http listener,
// matches incoming requests against a compiled artifact's endpoint table,
// and dispatches each one to its own bytecode.VM instance. It sits above
// both pkg/bytecode and pkg/host, which is why it cannot live inside
// either of them — pkg/bytecode already imports pkg/host for the Host
// interface, so a dispatcher living in pkg/host that also imported
// pkg/bytecode would cycle.
package serve

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/host"
)

// Server dispatches HTTP requests to the endpoints one compiled chunk
// defines, running each request on its own VM instance per §5's
// "no shared mutable state across instances" model.
type Server struct {
	chunk  *bytecode.Chunk
	host   host.Host
	logger *slog.Logger
	routes []route
	pool   *workerPool
	inner  *http.Server
}

type segment struct {
	literal string
	param   string // non-empty when this segment is a :param
}

type route struct {
	method   bytecode.HTTPMethod
	segments []segment
	endpoint bytecode.EndpointSchema
}

// New builds a Server over chunk's endpoint table. concurrency bounds how
// many requests run their VM concurrently; 0 means unbounded.
func New(chunk *bytecode.Chunk, h host.Host, logger *slog.Logger, concurrency int) *Server {
	s := &Server{
		chunk:  chunk,
		host:   h,
		logger: logger,
		pool:   newWorkerPool(concurrency),
	}
	for _, ep := range chunk.Endpoints {
		s.routes = append(s.routes, route{method: ep.Method, segments: splitTemplate(ep.PathTemplate), endpoint: ep})
	}
	return s
}

func splitTemplate(tmpl string) []segment {
	parts := strings.Split(strings.Trim(tmpl, "/"), "/")
	segs := make([]segment, 0, len(parts))
	for _, p := range parts {
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, ":") {
			segs = append(segs, segment{param: p[1:]})
		} else {
			segs = append(segs, segment{literal: p})
		}
	}
	return segs
}

// ListenAndServe starts the HTTP listener on addr, blocking until it
// stops or errors.
func (s *Server) ListenAndServe(addr string) error {
	s.inner = &http.Server{Addr: addr, Handler: s}
	return s.inner.ListenAndServe()
}

// Stop gracefully shuts down the listener, waiting up to 10 seconds for
// in-flight requests to finish.
func (s *Server) Stop() error {
	if s.inner == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.inner.Shutdown(ctx)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method, ok := methodFromString(r.Method)
	if !ok {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	matched, params, ok := s.match(method, r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.pool.acquire()
	defer s.pool.release()

	s.dispatch(w, r, matched, params)
}

func methodFromString(m string) (bytecode.HTTPMethod, bool) {
	switch m {
	case http.MethodGet:
		return bytecode.MethodGET, true
	case http.MethodPost:
		return bytecode.MethodPOST, true
	case http.MethodPut:
		return bytecode.MethodPUT, true
	case http.MethodDelete:
		return bytecode.MethodDELETE, true
	default:
		return 0, false
	}
}

// match finds the endpoint matching method and path, preferring the
// candidate whose path template has the longest run of literal segments
// before its first :param — "longest-literal-prefix-wins", the decided
// resolution for endpoints whose templates would otherwise overlap.
func (s *Server) match(method bytecode.HTTPMethod, path string) (*route, map[string]string, bool) {
	reqSegs := strings.Split(strings.Trim(path, "/"), "/")
	if len(reqSegs) == 1 && reqSegs[0] == "" {
		reqSegs = nil
	}

	var best *route
	var bestParams map[string]string
	bestPrefix := -1

	for i := range s.routes {
		rt := &s.routes[i]
		if rt.method != method || len(rt.segments) != len(reqSegs) {
			continue
		}
		params := map[string]string{}
		matches := true
		prefix := 0
		countingPrefix := true
		for j, seg := range rt.segments {
			if seg.param != "" {
				params[seg.param] = reqSegs[j]
				countingPrefix = false
				continue
			}
			if seg.literal != reqSegs[j] {
				matches = false
				break
			}
			if countingPrefix {
				prefix++
			}
		}
		if !matches {
			continue
		}
		if prefix > bestPrefix {
			bestPrefix = prefix
			best = rt
			bestParams = params
		}
	}

	return best, bestParams, best != nil
}
