package server

import (
	"math"

	"arenasync/protocol"
)

// ReplayResult is the outcome of rebuilding one session from its journal.
type ReplayResult struct {
	Session  string              `json:"session"`
	Events   int                 `json:"events"`
	Joins    int                 `json:"joins"`
	Leaves   int                 `json:"leaves"`
	Inputs   int                 `json:"inputs"`
	Missing  int                 `json:"missing"`  // inputs for actors not in the rebuilt world
	Diverged int                 `json:"diverged"` // inputs landing away from the recorded position
	LastSeq  uint64              `json:"last_seq"`
	Final    *protocol.GameState `json:"final"`
}

// Replay feeds the journal events of one session, in file order, into a
// fresh world and compares every input's outcome with the recorded position.
// cfg only supplies the roster; spawn points, speed and bounds come from the
// events themselves.
func Replay(files []string, session string, cfg SessionConfig) (ReplayResult, error) {
	res := ReplayResult{Session: session}
	w := NewWorld(cfg)
	for _, path := range files {
		err := ReadJournal(path, func(ev Event) error {
			if ev.Session != session {
				return nil
			}
			res.Events++
			if ev.Seq > res.LastSeq {
				res.LastSeq = ev.Seq
			}
			switch ev.Kind {
			case EventJoin:
				res.Joins++
				if _, err := w.Join(ev.ActorID); err == nil {
					w.place(ev.ActorID, ev.Pos)
				}
			case EventLeave:
				res.Leaves++
				w.Leave(ev.ActorID)
			case EventInput:
				res.Inputs++
				if ev.Speed > 0 {
					w.setRules(SessionConfig{Speed: ev.Speed, Bounds: ev.Bounds})
				}
				pos, ok := w.Apply(ev.ActorID, ev.Delta)
				if !ok {
					res.Missing++
					return nil
				}
				if math.Abs(pos.X-ev.Pos.X) > 1e-9 || math.Abs(pos.Y-ev.Pos.Y) > 1e-9 {
					res.Diverged++
				}
			}
			return nil
		})
		if err != nil {
			return res, err
		}
	}
	res.Final = w.Snapshot(res.LastSeq)
	return res, nil
}
