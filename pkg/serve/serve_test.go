package serve

import (
	"testing"

	"github.com/droe-lang/droec/pkg/bytecode"
)

func newTestServer(endpoints ...bytecode.EndpointSchema) *Server {
	chunk := &bytecode.Chunk{Endpoints: endpoints}
	return New(chunk, nil, nil, 0)
}

func ep(method bytecode.HTTPMethod, path string) bytecode.EndpointSchema {
	return bytecode.EndpointSchema{Method: method, PathTemplate: path}
}

func TestSplitTemplate(t *testing.T) {
	segs := splitTemplate("/users/:id/orders/:orderId")
	if len(segs) != 4 {
		t.Fatalf("got %d segments, want 4", len(segs))
	}
	want := []segment{{literal: "users"}, {param: "id"}, {literal: "orders"}, {param: "orderId"}}
	for i, w := range want {
		if segs[i] != w {
			t.Errorf("segment %d = %+v, want %+v", i, segs[i], w)
		}
	}
}

func TestSplitTemplateRoot(t *testing.T) {
	segs := splitTemplate("/")
	if len(segs) != 0 {
		t.Errorf("got %d segments for root path, want 0", len(segs))
	}
}

func TestMatchExactLiteral(t *testing.T) {
	s := newTestServer(ep(bytecode.MethodGET, "/health"))
	rt, params, ok := s.match(bytecode.MethodGET, "/health")
	if !ok {
		t.Fatal("expected a match")
	}
	if len(params) != 0 {
		t.Errorf("params = %v, want none", params)
	}
	if rt.endpoint.PathTemplate != "/health" {
		t.Errorf("matched %q", rt.endpoint.PathTemplate)
	}
}

func TestMatchWithParam(t *testing.T) {
	s := newTestServer(ep(bytecode.MethodGET, "/users/:id"))
	_, params, ok := s.match(bytecode.MethodGET, "/users/42")
	if !ok {
		t.Fatal("expected a match")
	}
	if params["id"] != "42" {
		t.Errorf("params[id] = %q, want 42", params["id"])
	}
}

func TestMatchMethodMismatch(t *testing.T) {
	s := newTestServer(ep(bytecode.MethodGET, "/users/:id"))
	_, _, ok := s.match(bytecode.MethodPOST, "/users/42")
	if ok {
		t.Fatal("expected no match for a differing method")
	}
}

func TestMatchLongestLiteralPrefixWins(t *testing.T) {
	s := newTestServer(
		ep(bytecode.MethodGET, "/users/:id"),
		ep(bytecode.MethodGET, "/users/active"),
	)

	rt, params, ok := s.match(bytecode.MethodGET, "/users/active")
	if !ok {
		t.Fatal("expected a match")
	}
	if rt.endpoint.PathTemplate != "/users/active" {
		t.Errorf("matched %q, want the literal route to win over the :id route", rt.endpoint.PathTemplate)
	}
	if len(params) != 0 {
		t.Errorf("params = %v, want none for the literal match", params)
	}
}

func TestMatchFallsBackToParamRoute(t *testing.T) {
	s := newTestServer(
		ep(bytecode.MethodGET, "/users/:id"),
		ep(bytecode.MethodGET, "/users/active"),
	)

	rt, params, ok := s.match(bytecode.MethodGET, "/users/99")
	if !ok {
		t.Fatal("expected a match")
	}
	if rt.endpoint.PathTemplate != "/users/:id" {
		t.Errorf("matched %q, want the :id route", rt.endpoint.PathTemplate)
	}
	if params["id"] != "99" {
		t.Errorf("params[id] = %q, want 99", params["id"])
	}
}

func TestMatchNoRouteForUnknownPath(t *testing.T) {
	s := newTestServer(ep(bytecode.MethodGET, "/users/:id"))
	_, _, ok := s.match(bytecode.MethodGET, "/orders/1")
	if ok {
		t.Fatal("expected no match")
	}
}

func TestMethodFromString(t *testing.T) {
	cases := map[string]bytecode.HTTPMethod{
		"GET":    bytecode.MethodGET,
		"POST":   bytecode.MethodPOST,
		"PUT":    bytecode.MethodPUT,
		"DELETE": bytecode.MethodDELETE,
	}
	for in, want := range cases {
		got, ok := methodFromString(in)
		if !ok || got != want {
			t.Errorf("methodFromString(%q) = %v, %v; want %v, true", in, got, ok, want)
		}
	}
	if _, ok := methodFromString("PATCH"); ok {
		t.Error("expected PATCH to be unsupported")
	}
}
