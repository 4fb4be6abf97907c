package serve

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/droe-lang/droec/pkg/bytecode"
)

func TestBuildRequestRecordFields(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/users/42?active=true", nil)
	r.Header.Set("X-Trace-Id", "abc")

	rec := buildRequestRecord(r, map[string]string{"id": "42"}, `{"name":"alice"}`)
	if rec.Kind != bytecode.VRecord {
		t.Fatalf("Kind = %v, want VRecord", rec.Kind)
	}
	f := rec.Record.Fields
	if f["method"].Text != http.MethodPost {
		t.Errorf("method = %q", f["method"].Text)
	}
	if f["path"].Text != "/users/42" {
		t.Errorf("path = %q", f["path"].Text)
	}
	if f["body"].Text != `{"name":"alice"}` {
		t.Errorf("body = %q", f["body"].Text)
	}
	if f["id"].Text != "42" {
		t.Errorf("id = %q, want the path param flattened in", f["id"].Text)
	}
	if f["headers"].Record.Fields["X-Trace-Id"].Text != "abc" {
		t.Errorf("headers.X-Trace-Id = %q", f["headers"].Record.Fields["X-Trace-Id"].Text)
	}
	if f["query"].Record.Fields["active"].Text != "true" {
		t.Errorf("query.active = %q", f["query"].Record.Fields["active"].Text)
	}
}

func TestValueToAnyPrimitives(t *testing.T) {
	if got := valueToAny(bytecode.IntValue(7)); got != int32(7) {
		t.Errorf("int = %v (%T)", got, got)
	}
	if got := valueToAny(bytecode.FlagValue(true)); got != true {
		t.Errorf("flag = %v (%T)", got, got)
	}
	if got := valueToAny(bytecode.TextValue("hi")); got != "hi" {
		t.Errorf("text = %v (%T)", got, got)
	}
}

func TestValueToAnyNestedRecordAndList(t *testing.T) {
	inner := bytecode.Value{Kind: bytecode.VRecord, Record: &bytecode.Record{
		TypeName: "Item",
		Fields:   map[string]bytecode.Value{"qty": bytecode.IntValue(3)},
	}}
	list := bytecode.Value{Kind: bytecode.VList, List: []bytecode.Value{inner}}

	got := valueToAny(list).([]any)
	if len(got) != 1 {
		t.Fatalf("got %d elements, want 1", len(got))
	}
	m := got[0].(map[string]any)
	if m["qty"] != int32(3) {
		t.Errorf("qty = %v", m["qty"])
	}
}

func TestWriteResponseRecordAsJSON(t *testing.T) {
	w := httptest.NewRecorder()
	body := bytecode.Value{Kind: bytecode.VRecord, Record: &bytecode.Record{
		TypeName: "Greeting",
		Fields:   map[string]bytecode.Value{"text": bytecode.TextValue("hi")},
	}}

	writeResponse(w, 201, body)

	if w.Code != 201 {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	if w.Body.String() != `{"text":"hi"}` {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestWriteResponsePlainText(t *testing.T) {
	w := httptest.NewRecorder()
	writeResponse(w, 0, bytecode.TextValue("ok"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 (default)", w.Code)
	}
	if w.Body.String() != "ok" {
		t.Errorf("body = %q", w.Body.String())
	}
}
