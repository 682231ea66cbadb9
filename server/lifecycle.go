package server

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"arenasync/protocol"
)

// ConnState is the lifecycle state of one connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateJoined
	StateActive
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateJoined:
		return "joined"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Stream is the inbound half of a connection's transport. Recv blocks until
// the next message; io.EOF means a clean close. Errors wrapping
// protocol.ErrMalformed are per-frame and do not end the stream.
type Stream interface {
	Recv() (protocol.Message, error)
	Close() error
}

// Conn drives one connection from Connecting to Disconnected.
type Conn struct {
	ID      ActorID
	session *Session
	stream  Stream
	out     *Outbox
	log     *zap.SugaredLogger

	state     atomic.Int32
	leaveOnce sync.Once
	done      chan struct{}
}

// NewConn wires an admitted identity, its transport and its outbox.
func NewConn(s *Session, id ActorID, stream Stream, out *Outbox, log *zap.SugaredLogger) *Conn {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Conn{
		ID:      id,
		session: s,
		stream:  stream,
		out:     out,
		log:     log.Named("conn").With("session", s.ID, "actor", id, "conn", out.ConnID),
		done:    make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (c *Conn) State() ConnState { return ConnState(c.state.Load()) }

// Done is closed once the connection reached Disconnected.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Join performs Connecting -> Joined: the actor is created, the outbox
// registered and the post-join snapshot broadcast.
func (c *Conn) Join() error {
	pos, err := c.session.Join(c.ID, c.out)
	if err != nil {
		c.state.Store(int32(StateDisconnected))
		close(c.done)
		_ = c.stream.Close()
		return err
	}
	c.state.Store(int32(StateJoined))
	c.log.Infow("joined", "x", pos.X, "y", pos.Y, "codec", c.out.Codec().Name())
	return nil
}

// Serve runs the ingestion loop until the inbound stream ends, then leaves.
// Join must have succeeded first.
func (c *Conn) Serve() {
	defer c.Disconnect()
	if !c.state.CompareAndSwap(int32(StateJoined), int32(StateActive)) {
		return
	}
	for {
		msg, err := c.stream.Recv()
		if err != nil {
			if errors.Is(err, protocol.ErrMalformed) {
				c.out.Touch()
				c.session.metrics.IncMalformed()
				c.log.Debugw("dropped malformed frame", "error", err)
				continue
			}
			if errors.Is(err, io.EOF) {
				c.log.Infow("stream closed")
			} else {
				c.log.Infow("stream error", "error", err)
			}
			return
		}
		c.out.Touch()
		c.handle(msg)
	}
}

func (c *Conn) handle(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ControlInput:
		if ActorID(m.ActorID) != c.ID {
			c.session.metrics.IncNotOwner()
			c.log.Debugw("dropped input", "error", ErrNotOwner, "target", m.ActorID)
			return
		}
		ok, err := c.session.Apply(*m)
		if err != nil {
			c.log.Debugw("dropped input", "error", err)
			return
		}
		if !ok {
			c.log.Debugw("dropped input for absent actor")
		}
	case *protocol.GameState:
		c.session.metrics.IncMalformed()
		c.log.Debugw("dropped game_state sent by client")
	}
}

// Disconnect performs -> Disconnected exactly once, whichever of the
// ingestion loop, a kick or a shutdown gets here first.
func (c *Conn) Disconnect() {
	c.leaveOnce.Do(func() {
		prev := ConnState(c.state.Swap(int32(StateDisconnected)))
		switch prev {
		case StateDisconnected:
			return
		case StateConnecting:
			c.session.Release(c.ID)
		default:
			c.session.Leave(c.ID)
		}
		_ = c.stream.Close()
		close(c.done)
		c.log.Infow("left", "from", prev.String())
	})
}
