package main

import (
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-checkout/internal/config"
	"ms-checkout/internal/database/migrations"
	"ms-checkout/internal/logger"
)

func main() {
	logger := logger.NewLogger()
	defer logger.Close()

	if err := godotenv.Load(); err != nil {
		logger.Warn("CONFIG", ".env file not found, using environment variables")
	}

	cfg := config.Load()

	direction := "up"
	if len(os.Args) > 1 {
		direction = os.Args[1]
	}

	sqldb, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
	}
	if err := sqldb.Ping(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
	}

	bunDB := bun.NewDB(sqldb, pgdialect.New())
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, os.Getenv("MIGRATIONS_DIR"))
	defer runner.Close()

	switch direction {
	case "up":
		if err := runner.Up(); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Migration up failed: %v", err))
		}
		logger.Info("MIGRATION", "✅ Migrations applied")
	case "down":
		if err := runner.Down(); err != nil {
			logger.Fatal("MIGRATION", fmt.Sprintf("Migration down failed: %v", err))
		}
		logger.Info("MIGRATION", "✅ Migrations rolled back")
	default:
		logger.Fatal("MIGRATION", fmt.Sprintf("Unknown direction %q (want up or down)", direction))
	}
}
