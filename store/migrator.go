package store

import (
	"context"
	"embed"
	"fmt"
	"log/slog"

	"github.com/pkg/errors"
)

// Migration files:
// - Location: store/migration/{driver}/LATEST.sql
// - LATEST.sql holds the full schema and is applied once on fresh databases.
//   The onboarding schema is small enough that incremental migrations are
//   not tracked; a schema change ships as a new LATEST.sql plus a manual
//   upgrade note.

//go:embed migration
var migrationFS embed.FS

// Migrate initializes the database schema when it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check if database is initialized")
	}
	if initialized {
		return nil
	}

	buf, err := migrationFS.ReadFile(fmt.Sprintf("migration/%s/LATEST.sql", s.profile.Driver))
	if err != nil {
		return errors.Wrapf(err, "failed to read latest schema for driver %q", s.profile.Driver)
	}

	if _, err := s.driver.GetDB().ExecContext(ctx, string(buf)); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	slog.Info("database initialized", slog.String("driver", s.profile.Driver))
	return nil
}
