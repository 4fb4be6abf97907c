package host

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
)

// upgrader is shared across all streaming respond upgrades; origin
// checking is left to whatever reverse proxy fronts the reference host,
// matching how the teacher leaves TLS termination to its own front door.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// StreamConn is a single upgraded connection backing a streaming respond.
// Each chunk a running action pushes with respond becomes one text frame.
type StreamConn struct {
	conn *websocket.Conn
}

// Upgrade switches an in-flight HTTP request to a websocket connection so
// an endpoint's action can push more than one respond over the request's
// lifetime.
func Upgrade(w http.ResponseWriter, r *http.Request) (*StreamConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "upgrading to websocket")
	}
	return &StreamConn{conn: conn}, nil
}

// Send pushes one text frame containing body to the client.
func (s *StreamConn) Send(body string) error {
	return errors.Wrap(s.conn.WriteMessage(websocket.TextMessage, []byte(body)), "writing stream frame")
}

// Close ends the stream, sending a normal closure frame first.
func (s *StreamConn) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
