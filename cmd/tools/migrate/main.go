package main

import (
	"errors"
	"flag"
	"log"
	"os"
	"strings"

	migrate "github.com/golang-migrate/migrate/v4"
	"github.com/joho/godotenv"

	"github.com/noah-isme/backend-punchout/internal/db"
)

func main() {
	var (
		direction = flag.String("direction", "up", "up, down or version")
		steps     = flag.Int("steps", 0, "number of migrations to apply; 0 applies all (down requires -steps)")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	m, err := db.NewMigrator(dbURL)
	if err != nil {
		log.Fatalf("open migrator: %v", err)
	}
	defer func() {
		if err := db.Close(m); err != nil {
			log.Printf("close migrator: %v", err)
		}
	}()

	switch *direction {
	case "up":
		if *steps > 0 {
			err = m.Steps(*steps)
		} else {
			err = db.RunMigrations(m)
		}
	case "down":
		if *steps <= 0 {
			log.Fatal("down requires -steps > 0")
		}
		err = m.Steps(-*steps)
	case "version":
	default:
		log.Fatalf("unknown direction %q", *direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		log.Fatalf("migrate %s: %v", *direction, err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		log.Println("schema version: none")
	case err != nil:
		log.Fatalf("read version: %v", err)
	default:
		log.Printf("schema version: %d (dirty=%t)", version, dirty)
	}
}
