package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DatasetRepo handles datasets.
type DatasetRepo struct {
	db *sql.DB
}

func NewDatasetRepo(db *sql.DB) *DatasetRepo {
	return &DatasetRepo{db: db}
}

// Create inserts a dataset together with its measurements in one
// transaction. Both the id and the source hash are checked inside it, so of
// two concurrent imports of one name exactly one wins and the loser leaves
// nothing behind. On ErrDuplicateSource the earlier dataset is returned.
func (r *DatasetRepo) Create(ctx context.Context, d Dataset, rows []Measurement) (existing Dataset, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return Dataset{}, err
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	prev, err := scanDataset(tx.QueryRowContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets d WHERE d.source_hash = ?`, d.SourceHash))
	switch {
	case err == nil:
		return prev, fmt.Errorf("dataset %q: %w", d.Name, ErrDuplicateSource)
	case !errors.Is(err, sql.ErrNoRows):
		return Dataset{}, err
	}

	var taken int
	if err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM datasets WHERE id = ?`, d.ID).Scan(&taken); err != nil {
		return Dataset{}, err
	}
	if taken > 0 {
		return Dataset{}, fmt.Errorf("dataset %q: %w", d.ID, ErrExists)
	}

	if _, err = tx.ExecContext(ctx, `
	INSERT INTO datasets(id, name, instrument, source_hash, imported_at, dirty)
	VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, 0);
	`, d.ID, d.Name, d.Instrument, d.SourceHash); err != nil {
		return Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	if err = insertMeasurements(ctx, tx, rows); err != nil {
		return Dataset{}, err
	}
	return Dataset{}, tx.Commit()
}

const datasetColumns = `d.id, d.name, d.instrument, d.source_hash, d.imported_at, d.reviewed_at, d.dirty`

func scanDataset(s interface{ Scan(...any) error }, extra ...any) (Dataset, error) {
	var d Dataset
	dest := append([]any{&d.ID, &d.Name, &d.Instrument, &d.SourceHash, &d.ImportedAt, &d.ReviewedAt, &d.Dirty}, extra...)
	err := s.Scan(dest...)
	return d, err
}

// List returns every dataset with its row and flag counts, newest first.
func (r *DatasetRepo) List(ctx context.Context) ([]DatasetSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
	SELECT `+datasetColumns+`,
	 COUNT(m.id),
	 COALESCE(SUM(m.selectable), 0),
	 COALESCE(SUM(CASE WHEN m.selectable = 1 AND m.woce_flag = ? THEN 1 ELSE 0 END), 0),
	 COALESCE(SUM(CASE WHEN m.woce_flag = ? THEN 1 ELSE 0 END), 0),
	 COALESCE(SUM(CASE WHEN m.woce_flag IN (?, ?) THEN 1 ELSE 0 END), 0)
	FROM datasets d
	LEFT JOIN measurements m ON m.dataset_id = d.id
	GROUP BY d.id
	ORDER BY d.imported_at DESC, d.name
	`, flagNeeds, flagQuestionable, flagBad, flagFatal)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DatasetSummary
	for rows.Next() {
		var s DatasetSummary
		d, err := scanDataset(rows, &s.Rows, &s.Selectable, &s.NeedsFlag, &s.Questionable, &s.Bad)
		if err != nil {
			return nil, err
		}
		s.Dataset = d
		out = append(out, s)
	}
	return out, rows.Err()
}

// Get looks a dataset up by id, falling back to an exact name match.
func (r *DatasetRepo) Get(ctx context.Context, ref string) (Dataset, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT `+datasetColumns+` FROM datasets d
	WHERE d.id = ? OR d.name = ?
	ORDER BY CASE WHEN d.id = ? THEN 0 ELSE 1 END
	LIMIT 1`, ref, ref, ref)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("dataset %q: %w", ref, ErrNotFound)
	}
	return d, err
}

// FindByHash reports the dataset previously imported from identical content.
func (r *DatasetRepo) FindByHash(ctx context.Context, hash string) (Dataset, bool, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets d WHERE d.source_hash = ?`, hash)
	d, err := scanDataset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, false, nil
	}
	if err != nil {
		return Dataset{}, false, err
	}
	return d, true, nil
}

func (r *DatasetRepo) SetDirty(ctx context.Context, id string, dirty bool) error {
	_, err := r.db.ExecContext(ctx, `UPDATE datasets SET dirty = ? WHERE id = ?`, dirty, id)
	return err
}

// MarkReviewed stamps the dataset as reviewed and clears the dirty bit.
func (r *DatasetRepo) MarkReviewed(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE datasets SET reviewed_at = ?, dirty = 0 WHERE id = ?`, at, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("dataset %q: %w", id, ErrNotFound)
	}
	return nil
}
