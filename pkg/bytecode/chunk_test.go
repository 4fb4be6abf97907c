package bytecode

import (
	"testing"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	chunk := compileSource(t, `
action add with a which is int, b which is int gives int
give a plus b
end action

set total which is int from add with 10, 5
display total
`)
	if chunk.Globals == 0 {
		t.Fatal("expected at least one global slot for `total`")
	}

	data := chunk.Serialize()
	got, err := Deserialize(data)
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}

	if got.Globals != chunk.Globals {
		t.Errorf("Globals = %d, want %d", got.Globals, chunk.Globals)
	}
	if len(got.Code) != len(chunk.Code) {
		t.Errorf("Code length = %d, want %d", len(got.Code), len(chunk.Code))
	}
	if len(got.Constants) != len(chunk.Constants) {
		t.Errorf("Constants length = %d, want %d", len(got.Constants), len(chunk.Constants))
	}
	if len(got.Modules) != len(chunk.Modules) {
		t.Errorf("Modules length = %d, want %d", len(got.Modules), len(chunk.Modules))
	}
}

func TestDeserializeRejectsGarbage(t *testing.T) {
	if _, err := Deserialize([]byte("not an artifact")); err == nil {
		t.Fatal("expected an error decoding a non-artifact buffer")
	}
}

func TestDeserializePreservesEndpointTable(t *testing.T) {
	chunk := compileSource(t, `
serve get /health
respond 200 with "ok"
end serve
`)
	if len(chunk.Endpoints) != 1 {
		t.Fatalf("got %d endpoints, want 1", len(chunk.Endpoints))
	}

	got, err := Deserialize(chunk.Serialize())
	if err != nil {
		t.Fatalf("Deserialize: %v", err)
	}
	if len(got.Endpoints) != 1 {
		t.Fatalf("got %d endpoints after round trip, want 1", len(got.Endpoints))
	}
	if got.Endpoints[0].PathTemplate != chunk.Endpoints[0].PathTemplate {
		t.Errorf("PathTemplate = %q, want %q", got.Endpoints[0].PathTemplate, chunk.Endpoints[0].PathTemplate)
	}
}
