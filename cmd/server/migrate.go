package main

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	dbstore "github.com/soaringjerry/labreport/internal/db"
)

// openStore opens the SQLite file and applies pending migrations before the
// store is handed to the router.
func openStore(ctx context.Context, sqlitePath, migrationsDir string, logger *zap.Logger) (*dbstore.SQLiteStore, *sql.DB, error) {
	sqliteDB, err := dbstore.OpenSQLite(sqlitePath)
	if err != nil {
		return nil, nil, err
	}
	if err := dbstore.RunMigrations(ctx, sqliteDB, migrationsDir); err != nil {
		_ = sqliteDB.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	store, err := dbstore.NewSQLiteStore(sqliteDB, logger.Named("sqlite"))
	if err != nil {
		_ = sqliteDB.Close()
		return nil, nil, fmt.Errorf("init sqlite store: %w", err)
	}
	logger.Info("sqlite ready", zap.String("path", sqlitePath))
	return store, sqliteDB, nil
}
