package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jask/fluxqc/internal/database"
	"github.com/jask/fluxqc/internal/database/repository"
)

// MaintenanceService houses destructive/ops actions surfaced through the CLI.
type MaintenanceService struct {
	DB *sql.DB
}

// Reset wipes all imported data and review decisions. It keeps the schema and
// the flag catalogue intact so the app can continue running.
func (s *MaintenanceService) Reset(ctx context.Context) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	if err := database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		for _, t := range []string{"measurements", "datasets"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+t); err != nil {
				return fmt.Errorf("reset table %s: %w", t, err)
			}
		}
		return nil
	}); err != nil {
		return err
	}
	_, _ = s.DB.ExecContext(ctx, "VACUUM")
	return nil
}

// Delete removes one dataset and its rows.
func (s *MaintenanceService) Delete(ctx context.Context, ref string) error {
	if s.DB == nil {
		return fmt.Errorf("maintenance: db not configured")
	}
	return database.WithTx(ctx, s.DB, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM datasets WHERE id = ? OR name = ?`, ref, ref)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("dataset %q: %w", ref, repository.ErrNotFound)
		}
		return nil
	})
}
