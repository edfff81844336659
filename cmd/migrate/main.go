package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"bichat/backend/internal/config"
	"bichat/backend/internal/db"
)

func main() {
	schemaPath := flag.String("schema", "db/schema.sql", "path to the schema SQL file")
	flag.Parse()

	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not configured")
	}

	schema, err := os.ReadFile(*schemaPath)
	if err != nil {
		log.Fatalf("read schema file: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connect failed: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("database ping failed: %v", err)
	}

	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		log.Fatalf("apply schema failed: %v", err)
	}
	log.Printf("schema applied from %s", *schemaPath)
}
