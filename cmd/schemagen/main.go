package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"path/filepath"

	"arenasync/protocol"
)

func main() {
	var outPath string
	flag.StringVar(&outPath, "out", "", "output path for the JSON schema (stdout when empty)")
	flag.Parse()

	schema, err := protocol.GenerateSchema()
	if err != nil {
		log.Fatalf("schemagen: %v", err)
	}
	data, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		log.Fatalf("schemagen: marshal schema: %v", err)
	}
	data = append(data, '\n')

	if outPath == "" {
		_, _ = os.Stdout.Write(data)
		return
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("schemagen: create output dir: %v", err)
	}
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		log.Fatalf("schemagen: write schema: %v", err)
	}
}
