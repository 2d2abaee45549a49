package api

import (
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/gridline-data/gridline.replay/internal/replay"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 16384,
	// Browser clients connect from the UI origin; access control is the
	// deployment's concern, matching the CORS policy above.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection and runs the streaming state
// machine for one client.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok := s.manager.Get(id)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	if !ok {
		conn.WriteJSON(map[string]string{"error": "session not found: " + id})
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "unknown session"))
		return
	}

	streamer := replay.NewStreamer(session, newWSConn(conn), s.clock, s.log)
	if err := streamer.Run(r.Context()); err != nil {
		s.log.Debug().Err(err).Str("session", id).Msg("stream closed with error")
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "stream error"))
	}
}

// wsConn adapts a gorilla connection to the streamer's Conn interface. A
// dedicated reader goroutine feeds incoming messages through a channel:
// a gorilla connection whose read deadline has expired fails every later
// read, so the streaming loop's short polls must never touch the socket.
type wsConn struct {
	conn     *websocket.Conn
	incoming chan []byte
	readErr  error // written by readLoop before incoming is closed
}

func newWSConn(conn *websocket.Conn) *wsConn {
	c := &wsConn{conn: conn, incoming: make(chan []byte, 16)}
	go c.readLoop()
	return c
}

// readLoop runs until the peer goes away or the handler closes the
// connection, which unblocks the pending read.
func (c *wsConn) readLoop() {
	defer close(c.incoming)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.readErr = err
			return
		}
		c.incoming <- msg
	}
}

func (c *wsConn) ReadCommand(timeout time.Duration) ([]byte, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-c.incoming:
		if !ok {
			if c.readErr != nil {
				return nil, c.readErr
			}
			return nil, io.EOF
		}
		return msg, nil
	case <-timer.C:
		return nil, replay.ErrReadTimeout
	}
}

func (c *wsConn) WriteBinary(data []byte) error {
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) WriteJSON(v interface{}) error {
	return c.conn.WriteJSON(v)
}
