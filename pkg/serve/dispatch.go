package serve

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/droe-lang/droec/pkg/bytecode"
	"github.com/droe-lang/droec/pkg/host"
)

// dispatch builds the request record, runs the matched endpoint's handler
// on a fresh VM, and writes its respond back to w. A request asking for a
// websocket upgrade gets a streaming dispatch instead, forwarding every
// respond the handler issues rather than only the last one.
func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, rt *route, params map[string]string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	request := buildRequestRecord(r, params, string(body))

	ctx := r.Context()
	vm := bytecode.New(s.chunk, s.host, func() bool { return ctx.Err() != nil })

	if r.Header.Get("Upgrade") == "websocket" {
		s.dispatchStreaming(w, r, vm, rt, request)
		return
	}

	if _, err := vm.Invoke(rt.endpoint.HandlerEntry, 1, false, []bytecode.Value{request}); err != nil {
		s.writeError(w, err)
		return
	}

	resp := vm.LastResponse()
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeResponse(w, resp.Status, resp.Body)
}

func (s *Server) dispatchStreaming(w http.ResponseWriter, r *http.Request, vm *bytecode.VM, rt *route, request bytecode.Value) {
	conn, err := host.Upgrade(w, r)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	vm.SetOnRespond(func(status int, body bytecode.Value) {
		if err := conn.Send(body.Display()); err != nil {
			s.logger.Warn("stream send failed", "err", err)
		}
	})

	if _, err := vm.Invoke(rt.endpoint.HandlerEntry, 1, false, []bytecode.Value{request}); err != nil && !errors.Is(err, bytecode.Cancelled) {
		s.logger.Error("streaming handler failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, bytecode.Cancelled) {
		return
	}
	var rerr *bytecode.RuntimeError
	if errors.As(err, &rerr) {
		s.logger.Error("handler runtime error", "kind", string(rerr.Kind), "message", rerr.Message)
	} else {
		s.logger.Error("handler failed", "err", err)
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func buildRequestRecord(r *http.Request, params map[string]string, body string) bytecode.Value {
	fields := map[string]bytecode.Value{
		"method": bytecode.TextValue(r.Method),
		"path":   bytecode.TextValue(r.URL.Path),
		"body":   bytecode.TextValue(body),
	}

	headers := map[string]bytecode.Value{}
	for k := range r.Header {
		headers[k] = bytecode.TextValue(r.Header.Get(k))
	}
	fields["headers"] = bytecode.Value{Kind: bytecode.VRecord, Record: &bytecode.Record{TypeName: "Headers", Fields: headers}}

	query := map[string]bytecode.Value{}
	for k := range r.URL.Query() {
		query[k] = bytecode.TextValue(r.URL.Query().Get(k))
	}
	fields["query"] = bytecode.Value{Kind: bytecode.VRecord, Record: &bytecode.Record{TypeName: "Query", Fields: query}}

	for name, value := range params {
		fields[name] = bytecode.TextValue(value)
	}

	return bytecode.Value{Kind: bytecode.VRecord, Record: &bytecode.Record{TypeName: "HTTPRequest", Fields: fields}}
}

// writeResponse translates a respond's status and body onto w: a record
// becomes a JSON object, anything else is written as its display text.
func writeResponse(w http.ResponseWriter, status int, body bytecode.Value) {
	if status == 0 {
		status = http.StatusOK
	}
	if body.Kind == bytecode.VRecord {
		data, err := json.Marshal(recordToMap(body.Record))
		if err != nil {
			http.Error(w, "encoding response", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body.Display())
}

func recordToMap(rec *bytecode.Record) map[string]any {
	out := make(map[string]any, len(rec.Fields))
	for k, v := range rec.Fields {
		out[k] = valueToAny(v)
	}
	return out
}

func valueToAny(v bytecode.Value) any {
	switch v.Kind {
	case bytecode.VRecord:
		return recordToMap(v.Record)
	case bytecode.VList, bytecode.VGroup:
		elems := make([]any, len(v.List))
		for i, e := range v.List {
			elems[i] = valueToAny(e)
		}
		return elems
	case bytecode.VFlag:
		return v.Flag
	case bytecode.VInt:
		return v.Int
	default:
		return v.Display()
	}
}
