package server

import (
	"sync"
	"sync/atomic"
	"time"

	"arenasync/protocol"
)

type pushResult int

const (
	pushOK pushResult = iota
	pushDropped
	pushKicked
)

// Outbox is the outbound delivery handle of one connection: a bounded queue
// of encoded frames drained by that connection's writer.
type Outbox struct {
	ID     ActorID
	ConnID string

	codec  protocol.Codec
	policy OverflowPolicy
	ch     chan []byte
	kick   func()

	kickOnce  sync.Once
	closeOnce sync.Once
	lastSeen  atomic.Int64
	dropped   atomic.Int64
}

// NewOutbox creates a queue holding up to size frames. kick force-closes the
// connection's transport; it must not block or touch the session. The
// overflow policy is taken from the session on join.
func NewOutbox(id ActorID, connID string, codec protocol.Codec, size int, kick func()) *Outbox {
	if size < 1 {
		size = 1
	}
	if kick == nil {
		kick = func() {}
	}
	o := &Outbox{
		ID:     id,
		ConnID: connID,
		codec:  codec,
		policy: OverflowDropOldest,
		ch:     make(chan []byte, size),
		kick:   kick,
	}
	o.Touch()
	return o
}

// Codec is the encoding this connection speaks.
func (o *Outbox) Codec() protocol.Codec { return o.codec }

// Frames is drained by the writer until the outbox is closed on deregister.
func (o *Outbox) Frames() <-chan []byte { return o.ch }

// Dropped counts frames evicted by the drop_oldest policy.
func (o *Outbox) Dropped() int64 { return o.dropped.Load() }

// Touch records inbound activity.
func (o *Outbox) Touch() { o.lastSeen.Store(time.Now().UnixNano()) }

// IdleFor is the time since the last inbound activity.
func (o *Outbox) IdleFor(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, o.lastSeen.Load()))
}

// Kick force-closes the transport once. The ingestion loop then sees the
// stream end and runs the normal leave path.
func (o *Outbox) Kick() {
	o.kickOnce.Do(o.kick)
}

// push enqueues a frame according to the overflow policy. Only the
// broadcaster sends, always with the session lock held, so a frame evicted
// under drop_oldest leaves room for the new one.
func (o *Outbox) push(frame []byte) pushResult {
	if o.policy == OverflowBlock {
		o.ch <- frame
		return pushOK
	}
	select {
	case o.ch <- frame:
		return pushOK
	default:
	}
	if o.policy == OverflowDisconnect {
		o.Kick()
		return pushKicked
	}
	select {
	case <-o.ch:
	default:
	}
	o.dropped.Add(1)
	select {
	case o.ch <- frame:
	default:
		o.dropped.Add(1)
	}
	return pushDropped
}

// close ends the writer's range loop. Called with the session lock held.
func (o *Outbox) close() {
	o.closeOnce.Do(func() { close(o.ch) })
}
