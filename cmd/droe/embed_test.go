package main

import (
	"os"
	"testing"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/parser"
)

func compileTestArtifact(t *testing.T) []byte {
	t.Helper()
	prog, diags := parser.Parse("test.droe", `display "hi"`)
	if diags.HasErrors() {
		t.Fatalf("parse: %v", diags)
	}
	chunk, err := bytecode.Compile(prog, 0)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	return chunk.Serialize()
}

func TestAppendArtifactRoundTrip(t *testing.T) {
	hostBinary := []byte("#!/fake/host/binary\n")
	artifact := compileTestArtifact(t)

	outPath := t.TempDir() + "/out.bin"
	if err := appendArtifact(hostBinary, artifact, outPath); err != nil {
		t.Fatalf("appendArtifact: %v", err)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("reading written file: %v", err)
	}

	chunk, ok := decodeEmbedded(data)
	if !ok {
		t.Fatal("decodeEmbedded failed to find an embedded artifact")
	}
	if len(chunk.Code) == 0 {
		t.Error("decoded chunk has no code")
	}
}

func TestDecodeEmbeddedNoMarkersFound(t *testing.T) {
	_, ok := decodeEmbedded([]byte("just a plain binary, no artifact here"))
	if ok {
		t.Fatal("expected no artifact to be found")
	}
}

func TestDecodeEmbeddedTruncatedLength(t *testing.T) {
	data := append([]byte("host"), startMarker...)
	data = append(data, 0x01, 0x02) // too short for the 8-byte length prefix
	data = append(data, endMarker...)

	_, ok := decodeEmbedded(data)
	if ok {
		t.Fatal("expected decode to fail on a truncated length field")
	}
}
