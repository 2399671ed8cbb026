package websocket

import (
	"time"

	"github.com/gorilla/websocket"
)

const defaultWriteWait = 10 * time.Second

// Transport adapts a gorilla connection to broadcast.Transport. Data frames go through
// WriteMessage on the connection's writer goroutine; control frames use WriteControl,
// which gorilla allows concurrently with it.
type Transport struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func NewTransport(conn *websocket.Conn, writeWait time.Duration) *Transport {
	if writeWait <= 0 {
		writeWait = defaultWriteWait
	}
	return &Transport{conn: conn, writeWait: writeWait}
}

func (t *Transport) WriteMessage(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *Transport) WritePing(payload []byte) error {
	return t.conn.WriteControl(websocket.PingMessage, payload, time.Now().Add(t.writeWait))
}

func (t *Transport) CloseWithCode(code int, reason string) error {
	msg := websocket.FormatCloseMessage(code, reason)
	return t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(t.writeWait))
}

func (t *Transport) Close() error {
	return t.conn.Close()
}
