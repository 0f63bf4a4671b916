package main

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slog"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		AddSource: false,
		Level:     slog.LevelDebug,
	}))

	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file loaded, relying on the environment", "error", err)
	}

	if os.Getenv(SessionSecretEnv) == "" {
		slog.Error("Missing required configuration", "env", SessionSecretEnv)
		os.Exit(1)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "logbook.db"
	}

	db, err := NewSQLiteDatabase(dbPath)
	if err != nil {
		slog.Error("Failed to init the database", "error", err)
		os.Exit(1)
	}

	if err := db.SeedUsers(context.Background()); err != nil {
		slog.Error("Failed to seed the journal accounts", "error", err)
		os.Exit(1)
	}

	server := NewAPIServer(db, os.Getenv("APP_HOST")+":"+os.Getenv("APP_PORT"))
	if err := server.Run(); err != nil {
		slog.Error("Server run error", "error", err)
		os.Exit(1)
	}
}
