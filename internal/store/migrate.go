package store

import (
	"context"
	"database/sql"
	"embed"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

func Migrate(ctx context.Context, db *sql.DB) error {
	if err := configureGoose(); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func configureGoose() error {
	goose.SetBaseFS(migrations)
	goose.SetTableName("schema_migrations")
	return goose.SetDialect("postgres")
}
