// Package host defines the callback interface the virtual machine invokes
// for everything outside its own stack machine — output, the clock,
// UUIDs, outbound HTTP, persistence, and runtime diagnostics — plus one
// concrete, runnable implementation of it.
package host

import (
	"github.com/droe-lang/droec/pkg/diag"
)

// HTTPResponse is the result of an outbound http_request callback.
type HTTPResponse struct {
	Status  int
	Body    string
	Headers map[string]string
}

// DBResult is the result of a db_op callback: at most one of Record or
// Records is populated, depending on the operation.
type DBResult struct {
	Status  int
	Record  map[string]any
	Records []map[string]any
}

// Host is the small table of callbacks the VM invokes. All calls are
// synchronous; concurrency across VM instances is the host's concern.
type Host interface {
	Print(text string)
	PrintLine(text string)
	Now() int64
	UUID() string
	HTTPRequest(url, method, body string, headers map[string]string) (HTTPResponse, error)
	DBOp(opCode byte, entity string, predicate map[string]any, fields map[string]any) (DBResult, error)
	Fail(kind diag.Kind, message string, span diag.Span)
}
