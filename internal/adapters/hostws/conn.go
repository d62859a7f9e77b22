package hostws

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/MeetRecorder/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

// WSConn is the subset of *websocket.Conn the bridge needs.
type WSConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type outFrame struct {
	binary bool
	data   []byte
}

// hostConn queues outbound frames for a single write pump.
type hostConn struct {
	conn   WSConn
	send   chan outFrame
	closed bool
	mu     sync.Mutex
}

func newHostConn(conn WSConn, buffer int) *hostConn {
	return &hostConn{conn: conn, send: make(chan outFrame, max(buffer, 1))}
}

var _ core.SignalConnection = (*hostConn)(nil)

func (c *hostConn) TrySend(f core.Frame) error { return c.enqueue(outFrame{data: f}) }

func (c *hostConn) TrySendBinary(f core.Frame) error {
	return c.enqueue(outFrame{binary: true, data: f})
}

func (c *hostConn) enqueue(f outFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

func (c *hostConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

func (c *hostConn) writePump(ctx context.Context, pingPeriod time.Duration) {
	var ping <-chan time.Time
	if pingPeriod > 0 {
		t := time.NewTicker(pingPeriod)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				log.Warn().Err(err).Str("module", "hostws").Msg("ping failed")
				c.Close()
				return
			}
		case f, ok := <-c.send:
			if !ok {
				return
			}
			typ := websocket.TextMessage
			if f.binary {
				typ = websocket.BinaryMessage
			}
			if err := c.write(typ, f.data); err != nil {
				log.Error().Err(err).Str("module", "hostws").Msg("write error")
				c.Close()
				return
			}
		}
	}
}

func (c *hostConn) write(typ int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(typ, data)
}

// readPump delivers every inbound message to handle until the socket fails.
func (c *hostConn) readPump(ctx context.Context, handle func(typ int, data []byte)) {
	defer c.Close()
	for {
		if ctx.Err() != nil {
			return
		}
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "hostws").Msg("read error")
			}
			return
		}
		handle(typ, data)
	}
}
