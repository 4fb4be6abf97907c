package host

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/droe-lang/droec/pkg/diag"
)

// ReferenceHost is the runnable Host implementation: it prints to stdout,
// reports failures through a structured logger, mints UUIDs, performs
// outbound HTTP requests, and delegates persistence to a DBAdapter. It
// demonstrates the host interface; the VM never requires it specifically.
type ReferenceHost struct {
	Logger *slog.Logger
	Client *http.Client
	DB     *DBAdapter
}

// NewReferenceHost builds a ReferenceHost with a 30-second outbound HTTP
// timeout and the given logger and database adapter. db may be nil for
// programs that never issue a database operation.
func NewReferenceHost(logger *slog.Logger, db *DBAdapter) *ReferenceHost {
	return &ReferenceHost{
		Logger: logger,
		Client: &http.Client{Timeout: 30 * time.Second},
		DB:     db,
	}
}

func (h *ReferenceHost) Print(text string) { fmt.Print(text) }

func (h *ReferenceHost) PrintLine(text string) { fmt.Println(text) }

func (h *ReferenceHost) Now() int64 { return time.Now().Unix() }

func (h *ReferenceHost) UUID() string { return uuid.NewString() }

// Fail is the VM's only required observability hook: every runtime
// diagnostic, regardless of kind, passes through here before the
// dispatch loop unwinds with a RuntimeError.
func (h *ReferenceHost) Fail(kind diag.Kind, message string, span diag.Span) {
	h.Logger.Error("runtime failure", "kind", string(kind), "message", message, "at", span.Start.String())
}

func (h *ReferenceHost) HTTPRequest(url, method, body string, headers map[string]string) (HTTPResponse, error) {
	req, err := http.NewRequest(strings.ToUpper(method), url, strings.NewReader(body))
	if err != nil {
		return HTTPResponse{}, errors.Wrapf(err, "building request to %s", url)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return HTTPResponse{}, errors.Wrapf(err, "requesting %s", url)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return HTTPResponse{}, errors.Wrap(err, "reading response body")
	}

	respHeaders := make(map[string]string, len(resp.Header))
	for k := range resp.Header {
		respHeaders[k] = resp.Header.Get(k)
	}

	return HTTPResponse{Status: resp.StatusCode, Body: string(data), Headers: respHeaders}, nil
}

func (h *ReferenceHost) DBOp(opCode byte, entity string, predicate, fields map[string]any) (DBResult, error) {
	if h.DB == nil {
		return DBResult{}, errors.Errorf("db_op %q issued but no database is configured (set db_dsn in droe.toml)", entity)
	}
	return h.DB.Exec(opCode, entity, predicate, fields)
}
