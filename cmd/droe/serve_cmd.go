package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/host"
	"github.com/droe-lang/droec/pkg/serve"
)

// serveChunk starts the HTTP front door for chunk's endpoint table and
// blocks until it exits or is interrupted.
func serveChunk(chunk *bytecode.Chunk, h *host.ReferenceHost, addr string) int {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	srv := serve.New(chunk, h, logger, 64)

	logger.Info("listening", "addr", addr)
	if err := srv.ListenAndServe(addr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
