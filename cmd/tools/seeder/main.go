package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-punchout/internal/contract"
)

// seeder loads contract discounts from a CSV file with the header
// supplier,category,country,percent. Each supplier is upserted as one batch.
func main() {
	var (
		file   = flag.String("file", "contracts.csv", "CSV file with supplier,category,country,percent rows")
		dryRun = flag.Bool("dry-run", false, "validate and print the batches without writing")
	)
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, relying on environment variables")
	}

	f, err := os.Open(*file)
	if err != nil {
		log.Fatalf("open %s: %v", *file, err)
	}
	defer f.Close()

	batches, err := readBatches(f)
	if err != nil {
		log.Fatalf("read %s: %v", *file, err)
	}
	suppliers := make([]string, 0, len(batches))
	for supplier, entries := range batches {
		supplier, entries = contract.Normalize(supplier, entries)
		if err := contract.Validate(supplier, entries); err != nil {
			log.Fatalf("supplier %s: %v", supplier, err)
		}
		suppliers = append(suppliers, supplier)
	}
	sort.Strings(suppliers)

	if *dryRun {
		for _, supplier := range suppliers {
			log.Printf("would upsert %d entries for %s", len(batches[supplier]), supplier)
		}
		return
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.Fatalf("connect database: %v", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("ping database: %v", err)
	}

	svc := &contract.Service{Store: contract.NewPGStore(pool)}
	for _, supplier := range suppliers {
		if err := svc.UpsertDiscounts(ctx, supplier, batches[supplier]); err != nil {
			log.Fatalf("upsert %s: %v", supplier, err)
		}
		log.Printf("upserted %d entries for %s", len(batches[supplier]), supplier)
	}
}

func readBatches(r io.Reader) (map[string][]contract.Entry, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 4
	reader.TrimLeadingSpace = true

	batches := map[string][]contract.Entry{}
	line := 0
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if line == 1 && strings.EqualFold(record[0], "supplier") {
			continue
		}
		percent, err := decimal.NewFromString(strings.TrimSpace(record[3]))
		if err != nil {
			return nil, fmt.Errorf("line %d: percent: %w", line, err)
		}
		supplier := strings.TrimSpace(record[0])
		batches[supplier] = append(batches[supplier], contract.Entry{
			Category: strings.TrimSpace(record[1]),
			Country:  strings.TrimSpace(record[2]),
			Percent:  percent,
		})
	}
	return batches, nil
}
