package main

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/droe-lang/droec/pkg/bytecode"
)

var (
	startMarker = []byte("__DROEBC_DATA_START__")
	endMarker   = []byte("__DROEBC_DATA_END__")
)

// appendArtifact writes hostBinary followed by a zstd-compressed,
// length-framed copy of artifact, producing a standalone executable at
// outPath per §6.2's framing.
func appendArtifact(hostBinary, artifact []byte, outPath string) error {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("creating compressor: %w", err)
	}
	compressed := enc.EncodeAll(artifact, nil)
	if err := enc.Close(); err != nil {
		return fmt.Errorf("closing compressor: %w", err)
	}

	var out bytes.Buffer
	out.Write(hostBinary)
	out.Write(startMarker)
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(compressed)))
	out.Write(lenBuf[:])
	out.Write(compressed)
	out.Write(endMarker)

	return os.WriteFile(outPath, out.Bytes(), 0755)
}

// tryRunEmbedded checks whether the currently running executable carries
// an artifact appended per §6.2, and if so decodes and returns it.
func tryRunEmbedded() (*bytecode.Chunk, bool) {
	self, err := os.Executable()
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(self)
	if err != nil {
		return nil, false
	}
	return decodeEmbedded(data)
}

// decodeEmbedded extracts and decodes the artifact appendArtifact wrote
// into data, if any. Split out from tryRunEmbedded so the framing logic
// can be exercised directly against an in-memory buffer.
func decodeEmbedded(data []byte) (*bytecode.Chunk, bool) {
	endIdx := bytes.LastIndex(data, endMarker)
	if endIdx < 0 {
		return nil, false
	}
	startIdx := bytes.LastIndex(data[:endIdx], startMarker)
	if startIdx < 0 {
		return nil, false
	}

	lenStart := startIdx + len(startMarker)
	if lenStart+8 > endIdx {
		return nil, false
	}
	length := binary.LittleEndian.Uint64(data[lenStart : lenStart+8])
	compressed := data[lenStart+8 : lenStart+8+int(length)]

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, false
	}
	defer dec.Close()

	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, false
	}

	chunk, err := bytecode.Deserialize(raw)
	if err != nil {
		return nil, false
	}
	return chunk, true
}
