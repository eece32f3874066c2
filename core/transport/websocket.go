// Package transport owns the persistent duplex websocket channel to the
// voice session endpoint.
//
// One [Conn] corresponds to one physical connection. The read loop hands
// raw frames to a single owner through [Handler]; writes are serialized
// behind a mutex because gorilla/websocket allows one concurrent writer.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/siacoach/voice-core/core/protocol"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultDialTimeout = 15 * time.Second
	closeWriteTimeout  = 2 * time.Second
)

// ErrNotConnected is returned by sends on a channel that is not open.
var ErrNotConnected = errors.New("transport not connected")

// Handler receives raw inbound frames and the connection-closed signal.
//
// OnClosed fires exactly once per physical connection, whether the close
// was graceful or abnormal; err is nil only for a normal close. Callbacks
// run on the connection's read goroutine, one at a time, in wire order.
type Handler struct {
	OnEvent  func(frame []byte)
	OnAudio  func(chunk []byte)
	OnClosed func(err error)
}

// Conn is one physical duplex channel.
type Conn struct {
	ws      *websocket.Conn
	handler Handler

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

// Dial opens the channel and, on success, immediately writes the init
// handshake before any other traffic. The returned connection is already
// reading; handler callbacks may fire before Dial's caller regains
// control of the goroutine.
func Dial(ctx context.Context, endpoint string, init protocol.InitCommand, handler Handler) (*Conn, error) {
	ctx, span := tracer.Start(ctx, "transport.Dial",
		trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	dialCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, defaultDialTimeout)
		defer cancel()
	}

	ws, _, err := websocket.DefaultDialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to %s: %w", endpoint, err)
	}

	conn := &Conn{
		ws:      ws,
		handler: handler,
		done:    make(chan struct{}),
	}

	if err := conn.SendCommand(init); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to send init handshake: %w", err)
	}

	go conn.readLoop()
	return conn, nil
}

// IsOpen reports whether the channel can still carry frames.
func (c *Conn) IsOpen() bool {
	return c != nil && !c.closed.Load()
}

// SendAudio writes one captured chunk as a binary frame.
func (c *Conn) SendAudio(chunk []byte) error {
	return c.write(websocket.BinaryMessage, chunk)
}

// SendCommand writes one control command as a text frame.
func (c *Conn) SendCommand(cmd protocol.Command) error {
	data, err := protocol.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.write(websocket.TextMessage, data)
}

func (c *Conn) write(messageType int, data []byte) error {
	if !c.IsOpen() {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteMessage(messageType, data); err != nil {
		return fmt.Errorf("failed to write to websocket: %w", err)
	}
	return nil
}

// Close sends a stop command, then tears the channel down. The handler's
// OnClosed still fires (from the read loop) so the owner observes every
// disconnect through the same path. Close is safe to call twice.
func (c *Conn) Close() error {
	if c == nil {
		return nil
	}

	var closeErr error
	c.closeOnce.Do(func() {
		if err := c.SendCommand(protocol.StopCommand{}); err != nil && !errors.Is(err, ErrNotConnected) {
			logger.Debug("failed to send stop before close", "error", err)
		}
		c.closed.Store(true)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeWriteTimeout),
		)
		c.writeMu.Unlock()

		closeErr = c.ws.Close()
	})

	<-c.done
	return closeErr
}

func (c *Conn) readLoop() {
	defer close(c.done)

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			wasClosed := c.closed.Swap(true)
			if !wasClosed {
				_ = c.ws.Close()
			}

			if isExpectedClose(err, wasClosed) {
				err = nil
			} else {
				logger.Warn("websocket read failed", "error", err)
			}
			if c.handler.OnClosed != nil {
				c.handler.OnClosed(err)
			}
			return
		}

		switch messageType {
		case websocket.BinaryMessage:
			if c.handler.OnAudio != nil && len(data) > 0 {
				c.handler.OnAudio(data)
			}
		case websocket.TextMessage:
			if c.handler.OnEvent != nil {
				c.handler.OnEvent(data)
			}
		default:
		}
	}
}

// isExpectedClose separates orderly shutdown from abnormal transport
// failure. Reads that fail after the local side already closed are part
// of teardown, not errors.
func isExpectedClose(err error, locallyClosed bool) bool {
	if locallyClosed {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
