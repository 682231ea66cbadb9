package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"arenasync/server"
)

// replay rebuilds a session from the event journal and prints the final
// world plus how many inputs failed to reproduce.
func main() {
	var (
		dir     string
		session string
		roster  string
		paddleX float64
		strict  bool
	)
	flag.StringVar(&dir, "dir", "journal", "journal directory")
	flag.StringVar(&session, "session", "main", "session to replay")
	flag.StringVar(&roster, "roster", string(server.RosterDynamic), "roster the session ran with: dynamic or fixed")
	flag.Float64Var(&paddleX, "paddle-x", 380, "paddle x offset for the fixed roster")
	flag.BoolVar(&strict, "strict", false, "exit non-zero on missing or diverged inputs")
	flag.Parse()

	cfg := server.DefaultSessionConfig()
	cfg.Roster = server.RosterMode(roster)
	cfg.PaddleX = paddleX
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(2)
	}

	files, err := server.JournalFiles(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintf(os.Stderr, "replay: no journal files in %s\n", dir)
		os.Exit(1)
	}

	res, err := server.Replay(files, session, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintf(os.Stderr, "replay: %v\n", err)
		os.Exit(1)
	}
	if strict && (res.Missing > 0 || res.Diverged > 0) {
		os.Exit(3)
	}
}
