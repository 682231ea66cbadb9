package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ConnIndex is an EventSink keeping one sqlite row per connection: who
// joined which session, with which codec, when they left and how many
// inputs were accepted. Writes go through a single goroutine.
type ConnIndex struct {
	db  *sql.DB
	log *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	ch     chan indexReq
	wg     sync.WaitGroup

	dropped atomic.Int64
}

type indexReq struct {
	ev   Event
	done chan struct{} // barrier when set
}

// ConnectionRecord is one row of the index.
type ConnectionRecord struct {
	Session  string     `json:"session"`
	ActorID  ActorID    `json:"actor_id"`
	ConnID   string     `json:"conn_id"`
	Codec    string     `json:"codec"`
	JoinedAt time.Time  `json:"joined_at"`
	LeftAt   *time.Time `json:"left_at,omitempty"`
	Inputs   int64      `json:"inputs"`
}

// OpenIndex opens (or creates) the sqlite file at cfg.Path.
func OpenIndex(cfg IndexConfig, log *zap.SugaredLogger) (*ConnIndex, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("index: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initIndexDB(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 4096
	}
	x := &ConnIndex{
		db:  db,
		log: log.Named("index"),
		ch:  make(chan indexReq, size),
	}
	x.wg.Add(1)
	go func() {
		defer x.wg.Done()
		x.loop()
	}()
	return x, nil
}

func initIndexDB(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session TEXT NOT NULL,
			actor_id INTEGER NOT NULL,
			conn_id TEXT NOT NULL DEFAULT '',
			codec TEXT NOT NULL DEFAULT '',
			joined_at TEXT NOT NULL,
			left_at TEXT,
			inputs INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_connections_live ON connections(session, actor_id, left_at);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (x *ConnIndex) Record(ev Event) {
	x.enqueue(indexReq{ev: ev})
}

func (x *ConnIndex) enqueue(r indexReq) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return false
	}
	if r.done != nil {
		x.ch <- r
		return true
	}
	select {
	case x.ch <- r:
		return true
	default:
		x.dropped.Add(1)
		return false
	}
}

// Flush waits until every event recorded before the call is written.
func (x *ConnIndex) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !x.enqueue(indexReq{done: done}) {
		return fmt.Errorf("index: closed")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (x *ConnIndex) loop() {
	for r := range x.ch {
		if r.done != nil {
			close(r.done)
			continue
		}
		if err := x.apply(r.ev); err != nil {
			x.log.Warnw("apply event", "kind", r.ev.Kind, "session", r.ev.Session, "actor", r.ev.ActorID, "error", err)
		}
	}
}

func (x *ConnIndex) apply(ev Event) error {
	var err error
	switch ev.Kind {
	case EventJoin:
		_, err = x.db.Exec(
			`INSERT INTO connections(session, actor_id, conn_id, codec, joined_at) VALUES(?, ?, ?, ?, ?)`,
			ev.Session, int64(ev.ActorID), ev.ConnID, ev.Codec, ev.At.UTC().Format(time.RFC3339Nano))
	case EventInput:
		_, err = x.db.Exec(
			`UPDATE connections SET inputs = inputs + 1 WHERE session = ? AND actor_id = ? AND left_at IS NULL`,
			ev.Session, int64(ev.ActorID))
	case EventLeave:
		_, err = x.db.Exec(
			`UPDATE connections SET left_at = ? WHERE session = ? AND actor_id = ? AND left_at IS NULL`,
			ev.At.UTC().Format(time.RFC3339Nano), ev.Session, int64(ev.ActorID))
	}
	return err
}

// Connections returns the most recent connection records of a session,
// newest first.
func (x *ConnIndex) Connections(ctx context.Context, session string, limit int) ([]ConnectionRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := x.db.QueryContext(ctx,
		`SELECT session, actor_id, conn_id, codec, joined_at, left_at, inputs
		 FROM connections WHERE session = ? ORDER BY id DESC LIMIT ?`, session, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ConnectionRecord
	for rows.Next() {
		var (
			rec      ConnectionRecord
			actor    int64
			joinedAt string
			leftAt   sql.NullString
		)
		if err := rows.Scan(&rec.Session, &actor, &rec.ConnID, &rec.Codec, &joinedAt, &leftAt, &rec.Inputs); err != nil {
			return nil, err
		}
		rec.ActorID = ActorID(actor)
		if rec.JoinedAt, err = time.Parse(time.RFC3339Nano, joinedAt); err != nil {
			return nil, err
		}
		if leftAt.Valid {
			t, err := time.Parse(time.RFC3339Nano, leftAt.String)
			if err != nil {
				return nil, err
			}
			rec.LeftAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Dropped counts events lost to a full queue.
func (x *ConnIndex) Dropped() int64 { return x.dropped.Load() }

// Close drains pending writes and closes the database.
func (x *ConnIndex) Close() error {
	x.mu.Lock()
	if x.closed {
		x.mu.Unlock()
		return nil
	}
	x.closed = true
	close(x.ch)
	x.mu.Unlock()
	x.wg.Wait()
	return x.db.Close()
}
