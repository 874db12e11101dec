package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/circularops/api/internal/db"
)

func main() {
	_ = godotenv.Load()

	status := flag.Bool("status", false, "print migration status instead of applying")
	flag.Parse()

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if *status {
		if err := db.Status(databaseURL); err != nil {
			log.Fatalf("goose status: %v", err)
		}
		return
	}
	if err := db.Migrate(databaseURL); err != nil {
		log.Fatal(err)
	}
}
