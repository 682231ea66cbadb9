package server

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"arenasync/protocol"
)

type recvResult struct {
	msg protocol.Message
	err error
}

type fakeStream struct {
	ch        chan recvResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{ch: make(chan recvResult, 16), closed: make(chan struct{})}
}

func (f *fakeStream) Recv() (protocol.Message, error) {
	select {
	case r := <-f.ch:
		return r.msg, r.err
	case <-f.closed:
		return nil, errors.New("use of closed stream")
	}
}

func (f *fakeStream) Close() error {
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeStream) isClosed() bool {
	select {
	case <-f.closed:
		return true
	default:
		return false
	}
}

func newTestConn(t *testing.T, s *Session) (*Conn, *fakeStream) {
	t.Helper()
	id, err := s.Admit()
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	stream := newFakeStream()
	out := NewOutbox(id, fmt.Sprintf("conn-%d", id), protocol.JSON, 64, func() { _ = stream.Close() })
	return NewConn(s, id, stream, out, zap.NewNop().Sugar()), stream
}

func waitDone(t *testing.T, c *Conn) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("connection %d did not disconnect (state %s)", c.ID, c.State())
	}
}

func TestConnServeSkipsBadFramesAndLeavesOnEOF(t *testing.T) {
	s := newTestSession(t, DefaultSessionConfig())
	c, stream := newTestConn(t, s)
	if err := c.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if c.State() != StateJoined {
		t.Fatalf("state after join = %s", c.State())
	}
	go c.Serve()

	stream.ch <- recvResult{err: fmt.Errorf("%w: bad frame", protocol.ErrMalformed)}
	stream.ch <- recvResult{msg: &protocol.ControlInput{ActorID: int64(c.ID) + 7, DX: 1}}
	stream.ch <- recvResult{msg: &protocol.GameState{Seq: 99}}
	stream.ch <- recvResult{msg: &protocol.ControlInput{ActorID: int64(c.ID), DX: 1}}
	stream.ch <- recvResult{err: io.EOF}
	waitDone(t, c)

	if c.State() != StateDisconnected {
		t.Fatalf("state = %s, want disconnected", c.State())
	}
	if !stream.isClosed() {
		t.Fatalf("stream not closed after leave")
	}
	m := s.Metrics().Snapshot()
	if m["inputs_malformed"] != int64(2) || m["inputs_not_owner"] != int64(1) ||
		m["inputs_accepted"] != int64(1) || m["leaves"] != int64(1) {
		t.Fatalf("metrics = %v", m)
	}
	if len(s.Members()) != 0 {
		t.Fatalf("members after leave = %v", s.Members())
	}
}

func TestConnDisconnectRunsOnce(t *testing.T) {
	s := newTestSession(t, DefaultSessionConfig())
	c, _ := newTestConn(t, s)
	if err := c.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	go c.Serve()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Disconnect()
		}()
	}
	wg.Wait()
	waitDone(t, c)
	if got := s.Metrics().Snapshot()["leaves"]; got != int64(1) {
		t.Fatalf("leaves = %v, want 1", got)
	}
}

func TestConnKickEndsServe(t *testing.T) {
	s := newTestSession(t, DefaultSessionConfig())
	c, _ := newTestConn(t, s)
	if err := c.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	go c.Serve()
	c.out.Kick()
	waitDone(t, c)
	if len(s.Members()) != 0 {
		t.Fatalf("kicked connection still a member")
	}
}

func TestConnDisconnectBeforeJoinReleasesSlot(t *testing.T) {
	s := newTestSession(t, fixedConfig())
	c, stream := newTestConn(t, s)
	if c.ID != LeftPaddle {
		t.Fatalf("first fixed id = %d", c.ID)
	}
	c.Disconnect()
	waitDone(t, c)
	if !stream.isClosed() {
		t.Fatalf("stream left open")
	}
	if got := s.Metrics().Snapshot()["leaves"]; got != int64(0) {
		t.Fatalf("leaves = %v for a connection that never joined", got)
	}
	if id, err := s.Admit(); err != nil || id != LeftPaddle {
		t.Fatalf("admit after release = %d, %v; want left paddle", id, err)
	}
}

func TestConnJoinFailsOnClosedSession(t *testing.T) {
	s := newTestSession(t, DefaultSessionConfig())
	c, stream := newTestConn(t, s)
	s.Close()
	if err := c.Join(); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("join err=%v, want ErrSessionClosed", err)
	}
	waitDone(t, c)
	if c.State() != StateDisconnected || !stream.isClosed() {
		t.Fatalf("failed join left state=%s closed=%v", c.State(), stream.isClosed())
	}
	c.Serve()
	c.Disconnect()
}
