package database

import (
	"context"
	"database/sql"
	"slices"

	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
)

// SeedDefaults ensures the flag catalogue matches the flags the program knows.
// It is idempotent and safe to run on every startup.
func SeedDefaults(ctx context.Context, db *sql.DB) error {
	flagRepo := repository.NewFlagRepo(db)
	assignable := qcflag.Assignable()
	for _, f := range qcflag.All() {
		def := repository.FlagDefinition{
			Code:       f,
			Name:       f.String(),
			Short:      f.Short(),
			Severity:   f.Severity(),
			Assignable: slices.Contains(assignable, f),
		}
		if err := flagRepo.Upsert(ctx, def); err != nil {
			return err
		}
	}
	return nil
}
