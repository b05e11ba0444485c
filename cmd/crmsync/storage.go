package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/migrations"
	persistence "github.com/goliatone/go-persistence-bun"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

type databaseConfig struct {
	driver string
	dsn    string
}

func (c databaseConfig) GetDebug() bool                { return false }
func (c databaseConfig) GetDriver() string             { return c.driver }
func (c databaseConfig) GetServer() string             { return c.dsn }
func (c databaseConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c databaseConfig) GetOtelIdentifier() string     { return "crmsync" }

// openDatabase connects and brings the schema up to date.
func openDatabase(ctx context.Context, driver, dsn string) (*persistence.Client, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	dialect := migrations.DialectForDriver(driver)

	var sqlDialect schema.Dialect
	switch dialect {
	case migrations.DialectSQLite:
		driver = "sqlite3"
		sqlDialect = sqlitedialect.New()
	default:
		driver = "postgres"
		sqlDialect = pgdialect.New()
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if dialect == migrations.DialectSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(databaseConfig{driver: driver, dsn: dsn}, sqlDB, sqlDialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	if err := migrations.Apply(ctx, client, dialect); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return client, nil
}
