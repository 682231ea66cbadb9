package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Journal is an EventSink appending every accepted event as one JSON line
// to zstd-compressed files, one per hour of event time:
// events-YYYY-MM-DD-HH.jsonl.zst. Records are queued and written by one
// goroutine; a full queue drops the event and counts it.
type Journal struct {
	dir string
	log *zap.SugaredLogger

	mu     sync.RWMutex
	closed bool
	ch     chan Event
	wg     sync.WaitGroup

	// owned by the writer goroutine, then by Close
	hour string
	file *os.File
	zw   *zstd.Encoder
	buf  *bufio.Writer
	enc  *json.Encoder

	written atomic.Int64
	dropped atomic.Int64
}

// OpenJournal starts a journal under cfg.Dir.
func OpenJournal(cfg JournalConfig, log *zap.SugaredLogger) (*Journal, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("journal: empty dir")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 4096
	}
	j := &Journal{
		dir: cfg.Dir,
		log: log.Named("journal"),
		ch:  make(chan Event, size),
	}
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop()
	}()
	return j, nil
}

func (j *Journal) Record(ev Event) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- ev:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) loop() {
	for ev := range j.ch {
		if err := j.append(ev); err != nil {
			j.log.Warnw("write event", "kind", ev.Kind, "session", ev.Session, "seq", ev.Seq, "error", err)
			continue
		}
		j.written.Add(1)
		// a burst ends in one complete zstd block, readable before close
		if len(j.ch) == 0 {
			if err := j.flush(); err != nil {
				j.log.Warnw("flush", "error", err)
			}
		}
	}
}

func (j *Journal) append(ev Event) error {
	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}
	if hour := at.UTC().Format("2006-01-02-15"); hour != j.hour {
		if err := j.openHour(hour); err != nil {
			return err
		}
	}
	return j.enc.Encode(ev)
}

func (j *Journal) openHour(hour string) error {
	if err := j.closeFile(); err != nil {
		j.log.Warnw("close journal file", "hour", j.hour, "error", err)
	}
	path := filepath.Join(j.dir, "events-"+hour+".jsonl.zst")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.hour, j.file, j.zw = hour, f, zw
	j.buf = bufio.NewWriterSize(zw, 64<<10)
	j.enc = json.NewEncoder(j.buf)
	return nil
}

func (j *Journal) flush() error {
	if j.file == nil {
		return nil
	}
	if err := j.buf.Flush(); err != nil {
		return err
	}
	return j.zw.Flush()
}

func (j *Journal) closeFile() error {
	if j.file == nil {
		return nil
	}
	err := multierr.Combine(j.buf.Flush(), j.zw.Close(), j.file.Close())
	j.hour, j.file, j.zw, j.buf, j.enc = "", nil, nil, nil, nil
	return err
}

// Close drains the queue and finishes the current file.
func (j *Journal) Close() error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	j.wg.Wait()
	return j.closeFile()
}

// JournalStats reports queue outcomes.
type JournalStats struct {
	Written int64 `json:"written"`
	Dropped int64 `json:"dropped"`
}

func (j *Journal) Stats() JournalStats {
	return JournalStats{Written: j.written.Load(), Dropped: j.dropped.Load()}
}

// JournalFiles lists the journal files in dir, oldest first.
func JournalFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ReadJournal calls fn for every event in one journal file, in write order.
func ReadJournal(path string, fn func(Event) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	return sc.Err()
}
