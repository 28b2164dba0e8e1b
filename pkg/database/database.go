package database

import (
	"context"
	"database/sql"
	"fmt"

	"proxy-pool/pkg/models"

	"github.com/spf13/viper"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type DB struct {
	*bun.DB
}

func NewDB() (*DB, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		viper.GetString("database.user"),
		viper.GetString("database.password"),
		viper.GetString("database.host"),
		viper.GetInt("database.port"),
		viper.GetString("database.dbname"),
		viper.GetString("database.sslmode"),
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %v", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the proxies table and its indexes if they don't exist.
// The unique (type, host, port) index backs InsertProxyIfAbsent.
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.Proxy)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	indexes := []struct {
		name    string
		columns string
		unique  bool
	}{
		{"proxies_source_idx", "(source)", false},
		{"proxies_add_time_idx", "(add_time)", false},
		{"proxies_http_status_idx", "(http_status)", false},
		{"proxies_https_status_idx", "(https_status)", false},
		{"proxies_counters_idx", "(check_success_count, check_fail_count)", false},
		{"proxies_endpoint_idx", "(type, host, port)", true},
	}

	for _, idx := range indexes {
		stmt := "CREATE INDEX IF NOT EXISTS "
		if idx.unique {
			stmt = "CREATE UNIQUE INDEX IF NOT EXISTS "
		}
		if _, err := db.ExecContext(ctx, stmt+idx.name+" ON proxies "+idx.columns); err != nil {
			return fmt.Errorf("failed to create index %s: %v", idx.name, err)
		}
	}

	return nil
}
