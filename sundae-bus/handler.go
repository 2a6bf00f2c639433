package sundaebus

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 64 * 1024

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsTransport carries text frames over a websocket. Peers are pinged at
// 9/10 of the read timeout; any frame or pong extends the read deadline.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	readTimeout  time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, opts SessionOptions) *wsTransport {
	t := &wsTransport{
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		readTimeout:  opts.ReadTimeout,
		done:         make(chan struct{}),
	}
	conn.SetReadLimit(maxFrameSize)
	conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.readTimeout))
	})
	go t.ping()
	return t
}

func (t *wsTransport) ping() {
	ticker := time.NewTicker(t.readTimeout * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(t.writeTimeout)
			if err := t.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				t.Close()
				return
			}
		}
	}
}

func (t *wsTransport) ReadFrame() (string, error) {
	for {
		messageType, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		t.conn.SetReadDeadline(time.Now().Add(t.readTimeout))
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return string(data), nil
		}
	}
}

func (t *wsTransport) WriteFrame(frame string) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	return t.conn.WriteMessage(websocket.TextMessage, []byte(frame))
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// Handler upgrades requests to websocket sessions. Sessions end when the
// client disconnects or ctx is done, whichever comes first.
func (b *Bus) Handler(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.Logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("websocket upgrade failed")
			return
		}

		session := b.NewSession(newWSTransport(conn, b.Session))
		if err := session.Run(ctx); err != nil {
			session.logger.Debug().Err(err).Msg("session ended")
		}
	}
}
