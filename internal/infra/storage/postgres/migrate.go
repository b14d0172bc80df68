package postgres

import (
	"embed"
	"fmt"

	"github.com/pressly/goose/v3"
)

// NotifyChannel is the channel the bundled trigger publishes to.
const NotifyChannel = "loyalty_realtime_events"

//go:embed migrations/*.sql
var migrations embed.FS

// Migrate applies the bundled realtime_events schema. The central API owns the
// production schema; this exists for local and test databases.
func Migrate(db *DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.Up(db.DB.DB, "migrations"); err != nil {
		return fmt.Errorf("failed to migrate db: %w", err)
	}
	return nil
}
