package main

import (
	"fmt"
	"os"

	"github.com/zfogg/vidlayer/internal/config"
	"github.com/zfogg/vidlayer/internal/database"
	"github.com/zfogg/vidlayer/internal/logger"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "up":
		withDatabase(runMigrationsUp)
	case "status":
		withDatabase(showStatus)
	default:
		fmt.Println("Usage: migrate [up|status]")
		fmt.Println("  up     - Create or update every table and index")
		fmt.Println("  status - Show which tables exist")
		os.Exit(1)
	}
}

func withDatabase(fn func(db *gorm.DB) error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	_ = logger.Initialize(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File, Console: true})
	defer logger.Close()

	logger.Log.Info("🔄 Connecting to database...")
	db, err := database.Initialize(cfg.Database, cfg.Server.Environment)
	if err != nil {
		logger.Log.Fatal("❌ Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := fn(db); err != nil {
		logger.Log.Fatal("❌ Migration failed", zap.Error(err))
	}
}

func runMigrationsUp(db *gorm.DB) error {
	logger.Log.Info("📈 Running migrations...")
	if err := database.Migrate(db); err != nil {
		return err
	}
	logger.Log.Info("✅ All migrations completed successfully!")
	return nil
}

func showStatus(db *gorm.DB) error {
	missing := 0
	for _, model := range database.AllModels() {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(model); err != nil {
			return err
		}
		table := stmt.Schema.Table
		if db.Migrator().HasTable(model) {
			fmt.Printf("  ✅ %s\n", table)
		} else {
			fmt.Printf("  ❌ %s\n", table)
			missing++
		}
	}
	if missing > 0 {
		fmt.Printf("%d table(s) missing, run `migrate up`\n", missing)
	}
	return nil
}
