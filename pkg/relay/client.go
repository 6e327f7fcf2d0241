package relay

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/pickletour/courtlive/pkg/types"
)

const (
	phaseIdle int32 = iota
	phaseHandshake
	phaseLive
	phaseClosed
)

const (
	defaultWriteTimeout = 5 * time.Second
	// Since the relay likely closed our connection already, don't wait long
	stopTimeout = time.Second
)

type Config struct {
	// HandshakeTimeout bounds the wait for "started". Zero waits until the
	// context is done.
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// Client is one duplex connection to the relay. A client is good for a single
// start/stop cycle.
type Client struct {
	cfg  Config
	conn *websocket.Conn
	log  logrus.FieldLogger

	writeMu sync.Mutex
	phase   atomic.Int32

	handshake chan error
	done      chan struct{}
	stopOnce  sync.Once

	onStats  func(types.HealthStats)
	onError  func(error)
	onClosed func(error)
}

// Dial opens the socket. Failing to connect counts as a failed handshake.
func Dial(ctx context.Context, url string, cfg Config) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &HandshakeError{Err: errors.Wrapf(err, "dial %s", url)}
	}
	return newClient(conn, cfg), nil
}

func newClient(conn *websocket.Conn, cfg Config) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Client{
		cfg:       cfg,
		conn:      conn,
		log:       logrus.StandardLogger(),
		handshake: make(chan error, 1),
		done:      make(chan struct{}),
		onStats:   func(types.HealthStats) {},
		onError:   func(error) {},
		onClosed:  func(error) {},
	}
}

func (c *Client) SetLogger(log logrus.FieldLogger) {
	c.log = log
}

// OnStats, OnError and OnClosed must be set before Start.

func (c *Client) OnStats(fn func(types.HealthStats)) {
	c.onStats = fn
}

// OnError receives error frames that arrive after the handshake.
func (c *Client) OnError(fn func(error)) {
	c.onError = fn
}

// OnClosed is called once if the connection goes away while live without Stop
// having been called. The error wraps ErrTransportDropped.
func (c *Client) OnClosed(fn func(error)) {
	c.onClosed = fn
}

// Live reports whether the relay has acknowledged the start request.
func (c *Client) Live() bool {
	return c.phase.Load() == phaseLive
}

// Start sends the start request and blocks until the relay answers "started",
// reports an error, the connection closes, or ctx is done.
func (c *Client) Start(ctx context.Context, msg StartMessage) error {
	if !c.phase.CompareAndSwap(phaseIdle, phaseHandshake) {
		if c.phase.Load() == phaseClosed {
			return &HandshakeError{Err: ErrClosed}
		}
		return ErrAlreadyStarted
	}

	go c.readLoop()

	msg.Type = typeStart
	if err := c.writeJSON(msg); err != nil {
		return &HandshakeError{Err: errors.Wrap(err, "send start")}
	}
	c.log.WithField("outputs", len(msg.Outputs)).Info("Sent start, waiting for relay")

	var timeout <-chan time.Time
	if c.cfg.HandshakeTimeout > 0 {
		timer := time.NewTimer(c.cfg.HandshakeTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case err := <-c.handshake:
		return err
	case <-c.done:
		// The reader may have queued the outcome right before exiting
		select {
		case err := <-c.handshake:
			return err
		default:
		}
		return &HandshakeError{Err: ErrClosed}
	case <-timeout:
		return &HandshakeError{Err: errors.Errorf("no response after %s", c.cfg.HandshakeTimeout)}
	case <-ctx.Done():
		return &HandshakeError{Err: ctx.Err()}
	}
}

// SendVideo forwards one Annex-B access unit.
func (c *Client) SendVideo(annexB []byte) error {
	if len(annexB) == 0 {
		return nil
	}
	return c.writeBinary(annexB)
}

// SendAudio forwards one compressed audio chunk behind the audio marker.
// Empty chunks are dropped.
func (c *Client) SendAudio(chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}
	return c.writeBinary(FrameAudio(chunk))
}

// Stop tells the relay to stop and closes the socket. Safe to call more than
// once and from any goroutine.
func (c *Client) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		prev := c.phase.Swap(phaseClosed)

		if prev == phaseHandshake || prev == phaseLive {
			c.writeMu.Lock()
			_ = c.conn.SetWriteDeadline(time.Now().Add(stopTimeout))
			if werr := c.conn.WriteJSON(stopMessage{Type: typeStop}); werr != nil {
				c.log.Debugf("best effort stop failed: %v", werr)
			}
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.writeMu.Unlock()
		}

		err = c.conn.Close()
		c.log.Info("Relay connection closed")
	})
	return err
}

func (c *Client) writeBinary(b []byte) error {
	if c.phase.Load() == phaseClosed {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.BinaryMessage, b)
}

func (c *Client) writeJSON(v interface{}) error {
	if c.phase.Load() == phaseClosed {
		return ErrClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleClose(err)
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warnf("ignoring malformed relay message: %v", err)
			continue
		}

		switch msg.Type {
		case typeStarted:
			if c.phase.CompareAndSwap(phaseHandshake, phaseLive) {
				c.log.Info("Relay started")
				c.finishHandshake(nil)
			}
		case typeStats:
			c.onStats(msg.stats())
		case typeProgress:
			c.log.Debugf("relay progress: %s", msg.Message)
		case typeError:
			remote := &RemoteError{Message: msg.Message}
			switch c.phase.Load() {
			case phaseHandshake:
				c.finishHandshake(&HandshakeError{Err: remote})
			case phaseLive:
				c.onError(remote)
			}
		case typeStopped:
			switch c.phase.Load() {
			case phaseHandshake:
				c.finishHandshake(&HandshakeError{Err: errors.Errorf("relay stopped: %s", msg.Message)})
			case phaseLive:
				if c.phase.CompareAndSwap(phaseLive, phaseClosed) {
					c.onClosed(errors.Wrap(ErrTransportDropped, msg.Message))
				}
			}
		default:
			c.log.Debugf("unknown relay message type %q", msg.Type)
		}
	}
}

func (c *Client) handleClose(err error) {
	switch c.phase.Load() {
	case phaseHandshake:
		c.finishHandshake(&HandshakeError{Err: err})
	case phaseLive:
		if c.phase.CompareAndSwap(phaseLive, phaseClosed) {
			c.log.Warnf("relay connection lost: %v", err)
			c.onClosed(errors.Wrap(ErrTransportDropped, err.Error()))
		}
	}
}

func (c *Client) finishHandshake(err error) {
	select {
	case c.handshake <- err:
	default:
	}
}
