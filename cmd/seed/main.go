package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/logger"
	"github.com/zfogg/vidlayer/internal/search"
	"github.com/zfogg/vidlayer/internal/seed"
	"go.uber.org/zap"
)

func main() {
	command := "dev"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "dev":
		run("🌱 Seeding development database...", func(s *seed.Seeder) error { return s.SeedDev() })
	case "test":
		run("🧪 Seeding test database...", func(s *seed.Seeder) error { return s.SeedTest() })
	case "clean":
		run("🧹 Cleaning seed data...", func(s *seed.Seeder) error { return s.Clean() })
	case "verify":
		run("🔍 Verifying seed data...", printCounts)
	default:
		fmt.Println("Usage: seed [dev|test|clean|verify]")
		fmt.Println("  dev    - Seed development database with realistic data")
		fmt.Println("  test   - Seed test database with fixed fixtures")
		fmt.Println("  clean  - Remove all rows from every table (use with caution)")
		fmt.Println("  verify - Print row counts for every table")
		os.Exit(1)
	}
}

func run(banner string, fn func(*seed.Seeder) error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	_ = logger.Initialize(logger.Options{Level: cfg.Log.Level, Console: true})
	defer logger.Close()

	if cfg.IsProduction() {
		logger.Log.Fatal("❌ Refusing to seed a production database")
	}

	logger.Log.Info(banner)
	db, err := database.Initialize(cfg.Database, cfg.Server.Environment)
	if err != nil {
		logger.Log.Fatal("❌ Failed to connect to database", zap.Error(err))
	}
	defer database.Close()
	if err := database.Migrate(db); err != nil {
		logger.Log.Fatal("❌ Failed to migrate database", zap.Error(err))
	}
	logger.Log.Info("✅ Database connected")

	seeder := seed.NewSeeder(db)
	if cfg.Elasticsearch.Enabled {
		es, err := search.NewClient(cfg.Elasticsearch.URL, http.DefaultTransport)
		if err == nil {
			err = es.InitializeIndices(context.Background())
		}
		if err != nil {
			logger.Log.Warn("⚠️  Elasticsearch unavailable - skipping search indexing", zap.Error(err))
		} else {
			seeder.SetSearchIndex(es)
			logger.Log.Info("✅ Elasticsearch configured")
		}
	}

	if err := fn(seeder); err != nil {
		logger.Log.Fatal("❌ Seeding failed", zap.Error(err))
	}
	logger.Log.Info("✅ Done")
}

func printCounts(s *seed.Seeder) error {
	counts, err := s.Counts()
	if err != nil {
		return err
	}
	fmt.Println("📊 Record Counts:")
	for _, c := range counts {
		fmt.Printf("  %-24s %d\n", c.Table+":", c.Rows)
	}
	return nil
}
