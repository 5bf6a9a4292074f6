// migrate applies or rolls back the embedded schema migrations.
//
// Usage:
//
//	go run ./cmd/migrate          # apply all pending migrations
//	go run ./cmd/migrate down 1   # roll back one step
package main

import (
	"log"
	"os"
	"strconv"

	"inventory-ledger/internal/config"
	"inventory-ledger/internal/db"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	cfg := config.LoadEnv()
	if cfg.Postgres.URL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	if len(os.Args) > 1 && os.Args[1] == "down" {
		steps := 1
		if len(os.Args) > 2 {
			n, err := strconv.Atoi(os.Args[2])
			if err != nil || n < 1 {
				log.Fatalf("Invalid step count: %s", os.Args[2])
			}
			steps = n
		}
		if err := db.Rollback(cfg.Postgres.URL, steps); err != nil {
			log.Fatalf("Rollback failed: %v", err)
		}
		log.Printf("Rolled back %d step(s).", steps)
		return
	}

	version, err := db.Migrate(cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
	log.Printf("Schema at version %d.", version)
}
