package app

import (
	"errors"
	"sync"
	"time"

	"fitchat/internal/model"
	"fitchat/internal/utils/log"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// ChannelState is the client transport state. At most one connection
// attempt is in flight per channel; Connect while Connecting or
// Connected is a no-op.
type ChannelState int

const (
	Disconnected ChannelState = iota
	Connecting
	Connected
)

func (s ChannelState) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ErrNotConnected is returned by Send while the channel is down. The UI
// disables the send action in that state.
var ErrNotConnected = errors.New("channel not connected")

type (
	// ChannelHandlers receive demultiplexed server frames. They are
	// invoked from the read goroutine, one at a time.
	ChannelHandlers struct {
		OnConnected   func(userID int64)
		OnMessage     func(env *model.MessageEnvelope, senderPublicKey string)
		OnAck         func(correlationID string, messageID int64)
		OnError       func(reason string)
		OnStateChange func(state ChannelState)
	}

	// Channel is the single long-lived websocket per authenticated
	// session. It supervises its own reconnects with exponential
	// backoff instead of relying on an external trigger re-firing.
	Channel struct {
		dialURL  string
		handlers ChannelHandlers

		backoffBase time.Duration
		backoffCap  time.Duration
		maxAttempts int

		mu       sync.Mutex
		state    ChannelState
		conn     *websocket.Conn
		closed   bool
		attempts int
	}
)

func NewChannel(dialURL string, handlers ChannelHandlers) *Channel {
	return &Channel{
		dialURL:     dialURL,
		handlers:    handlers,
		backoffBase: 500 * time.Millisecond,
		backoffCap:  30 * time.Second,
		maxAttempts: 8,
	}
}

// Connect starts a connection attempt unless one is already in flight
// or established. The actual dial happens on a separate goroutine.
func (c *Channel) Connect() {
	c.mu.Lock()
	if c.closed || c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.setStateLocked(Connecting)
	c.mu.Unlock()

	go c.dial()
}

func (c *Channel) dial() {
	conn, _, err := websocket.DefaultDialer.Dial(c.dialURL, nil)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		c.setStateLocked(Disconnected)
		attempt := c.attempts
		c.attempts++
		c.mu.Unlock()

		log.Debug("channel dial failed", zap.Error(err))
		c.scheduleReconnect(attempt)
		return
	}

	c.conn = conn
	c.attempts = 0
	c.setStateLocked(Connected)
	c.mu.Unlock()

	go c.readLoop(conn)
}

func (c *Channel) scheduleReconnect(attempt int) {
	if attempt >= c.maxAttempts {
		log.Warn("channel reconnect attempts exhausted")
		return
	}

	delay := c.backoffBase << attempt
	if delay > c.backoffCap {
		delay = c.backoffCap
	}

	time.AfterFunc(delay, func() {
		c.Connect()
	})
}

func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		var frame model.ServerFrame
		if err := conn.ReadJSON(&frame); err != nil {
			log.Debug("channel closed", zap.Error(err))
			c.handleDisconnect(conn)
			return
		}

		switch frame.Type {
		case model.FrameConnected:
			if c.handlers.OnConnected != nil {
				c.handlers.OnConnected(frame.UserID)
			}
		case model.FrameMessage:
			if c.handlers.OnMessage != nil && frame.Message != nil {
				c.handlers.OnMessage(frame.Message, frame.SenderPublicKey)
			}
		case model.FrameMessageAck:
			if c.handlers.OnAck != nil {
				c.handlers.OnAck(frame.CorrelationID, frame.MessageID)
			}
		case model.FrameError:
			if c.handlers.OnError != nil {
				c.handlers.OnError(frame.Error)
			}
		default:
			log.Debug("unknown frame type", zap.String("type", frame.Type))
		}
	}
}

// handleDisconnect clears the handle so no further frames are
// dispatched to a dead connection, then supervises the reconnect.
func (c *Channel) handleDisconnect(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn != conn {
		// A newer connection already took over.
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.setStateLocked(Disconnected)
	closed := c.closed
	attempt := c.attempts
	c.attempts++
	c.mu.Unlock()

	if !closed {
		c.scheduleReconnect(attempt)
	}
}

// Send writes a send frame. Fails immediately with ErrNotConnected
// while the channel is down; there is no buffering or retry.
func (c *Channel) Send(frame *model.SendFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Connected || c.conn == nil {
		return ErrNotConnected
	}
	return c.conn.WriteJSON(frame)
}

// State reports the current channel state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close tears the channel down for good; no reconnect follows.
func (c *Channel) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.setStateLocked(Disconnected)
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Channel) setStateLocked(state ChannelState) {
	if c.state == state {
		return
	}
	c.state = state
	if c.handlers.OnStateChange != nil {
		go c.handlers.OnStateChange(state)
	}
}
