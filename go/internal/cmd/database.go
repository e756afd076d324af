package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/quizpot/go/internal/db"
	"github.com/mcdev12/quizpot/go/internal/dbconfig"
)

func setupDatabase(ctx context.Context, cfg dbconfig.Config) (*pgxpool.Pool, error) {
	pool, err := dbconfig.OpenPool(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if os.Getenv("DB_MIGRATE") != "false" {
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}
	return pool, nil
}
