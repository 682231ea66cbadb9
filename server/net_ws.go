package server

import (
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"arenasync/protocol"
)

const (
	writeWait      = 5 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 16

	// HeaderActorID carries the assigned actor id on the upgrade response.
	HeaderActorID = "X-Actor-Id"
	HeaderConnID  = "X-Conn-Id"
)

// wsStream adapts a websocket to Stream.
type wsStream struct {
	ws        *websocket.Conn
	codec     protocol.Codec
	closeOnce sync.Once
	closeErr  error
}

func (s *wsStream) Recv() (protocol.Message, error) {
	_, payload, err := s.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, io.EOF
		}
		return nil, err
	}
	_ = s.ws.SetReadDeadline(time.Now().Add(pongWait))
	return s.codec.Decode(payload)
}

// Close may be called from any goroutine; it unblocks a pending Recv.
func (s *wsStream) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.ws.Close() })
	return s.closeErr
}

// writePump drains the outbox to the websocket and keeps the peer alive with
// pings. After a write error it kicks the connection and keeps draining
// without writing, so a blocking broadcaster is never stuck on a dead peer.
func writePump(ws *websocket.Conn, out *Outbox) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	msgType := websocket.TextMessage
	if out.Codec().Binary() {
		msgType = websocket.BinaryMessage
	}
	failed := false
	for {
		select {
		case frame, ok := <-out.Frames():
			if !ok {
				if !failed {
					_ = ws.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				}
				return
			}
			if failed {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(msgType, frame); err != nil {
				failed = true
				out.Kick()
			}
		case <-ticker.C:
			if failed {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				failed = true
				out.Kick()
			}
		}
	}
}

// HandlePlay opens a Play stream: /play?session=main&encoding=json|msgpack
func (srv *Server) HandlePlay(w http.ResponseWriter, r *http.Request) {
	codec, err := protocol.CodecByName(r.URL.Query().Get("encoding"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sess, err := srv.manager.GetOrCreate(r.URL.Query().Get("session"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	id, err := sess.Admit()
	switch {
	case errors.Is(err, ErrRosterFull):
		http.Error(w, "roster full", http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	connID := uuid.NewString()
	header := http.Header{}
	header.Set(HeaderActorID, id.String())
	header.Set(HeaderConnID, connID)
	ws, err := srv.upgrader.Upgrade(w, r, header)
	if err != nil {
		sess.Release(id)
		srv.log.Infow("upgrade failed", "session", sess.ID, "error", err)
		return
	}
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error { return ws.SetReadDeadline(time.Now().Add(pongWait)) })

	stream := &wsStream{ws: ws, codec: codec}
	out := NewOutbox(id, connID, codec, sess.Config().QueueSize, func() { _ = stream.Close() })
	conn := NewConn(sess, id, stream, out, srv.log)
	if err := conn.Join(); err != nil {
		srv.log.Infow("join failed", "session", sess.ID, "actor", id, "error", err)
		return
	}

	go writePump(ws, out)
	go conn.Serve()
}
