package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"estados/config"
	"estados/pkg/database"
)

const usage = `
Estados - Database CLI Tool

Usage:
  migrate [command]

Commands:
  up          Apply all pending migrations
  down        Roll back the most recent migration
  status      Show applied and pending migrations
  version     Print the current schema version
  reset       Roll back every migration (DANGEROUS)

Examples:
  go run ./cmd/migrate up
  go run ./cmd/migrate status
`

func main() {
	flag.Usage = func() {
		fmt.Print(usage)
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	command := flag.Arg(0)

	cfg := config.LoadConfig()
	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(db)

	log.Printf("Running migrate %s...", command)
	if err := database.Migrate(db, command); err != nil {
		log.Fatalf("Migrate %s failed: %v", command, err)
	}
	log.Printf("Migrate %s completed", command)
}
