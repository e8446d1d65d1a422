package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jask/fluxqc/internal/qcflag"
)

// sqlite's default host-parameter limit is 999; stay well under it.
const idChunk = 500

// MeasurementFilter defines list filters. Zero values mean no restriction.
type MeasurementFilter struct {
	DatasetID string
	From      time.Time
	To        time.Time // exclusive
	WoceFlags []qcflag.Flag
}

func (f MeasurementFilter) where() (string, []any) {
	var where []string
	var args []any
	if f.DatasetID != "" {
		where = append(where, "dataset_id = ?")
		args = append(args, f.DatasetID)
	}
	if !f.From.IsZero() {
		where = append(where, "time >= ?")
		args = append(args, f.From.UTC())
	}
	if !f.To.IsZero() {
		where = append(where, "time < ?")
		args = append(args, f.To.UTC())
	}
	if len(f.WoceFlags) > 0 {
		where = append(where, "woce_flag IN ("+placeholders(len(f.WoceFlags))+")")
		for _, fl := range f.WoceFlags {
			args = append(args, int(fl))
		}
	}
	if len(where) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(where, " AND "), args
}

// MeasurementRepo handles measurement rows.
type MeasurementRepo struct {
	db *sql.DB
}

func NewMeasurementRepo(db *sql.DB) *MeasurementRepo { return &MeasurementRepo{db: db} }

func insertMeasurements(ctx context.Context, tx *sql.Tx, ms []Measurement) error {
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO measurements(
	 dataset_id, seq, time, co2_ppm, flux, wind_speed, sst, selectable,
	 auto_flag, auto_message, woce_flag, woce_message)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, m := range ms {
		if _, err := stmt.ExecContext(ctx,
			m.DatasetID, m.Seq, m.Time, m.CO2, m.Flux, m.WindSpeed, m.SST, m.Selectable,
			int(m.AutoFlag), m.AutoMessage, int(m.WoceFlag), m.WoceMessage); err != nil {
			return fmt.Errorf("insert seq %d: %w", m.Seq, err)
		}
	}
	return nil
}

const measurementColumns = `id, dataset_id, seq, time, co2_ppm, flux, wind_speed, sst, selectable,
 auto_flag, auto_message, woce_flag, woce_message, woce_user, woce_at`

func scanMeasurement(s interface{ Scan(...any) error }) (Measurement, error) {
	var (
		m          Measurement
		auto, woce int
	)
	err := s.Scan(&m.ID, &m.DatasetID, &m.Seq, &m.Time, &m.CO2, &m.Flux, &m.WindSpeed, &m.SST, &m.Selectable,
		&auto, &m.AutoMessage, &woce, &m.WoceMessage, &m.WoceUser, &m.WoceAt)
	m.AutoFlag = qcflag.Flag(auto)
	m.WoceFlag = qcflag.Flag(woce)
	return m, err
}

func (r *MeasurementRepo) query(ctx context.Context, q string, args ...any) ([]Measurement, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Measurement
	for rows.Next() {
		m, err := scanMeasurement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Page returns rows matching f in sequence order. limit <= 0 returns every
// row from offset on.
func (r *MeasurementRepo) Page(ctx context.Context, f MeasurementFilter, offset, limit int) ([]Measurement, error) {
	where, args := f.where()
	q := "SELECT " + measurementColumns + " FROM measurements" + where + " ORDER BY dataset_id, seq"
	if limit > 0 {
		q += " LIMIT ? OFFSET ?"
		args = append(args, limit, offset)
	} else if offset > 0 {
		q += " LIMIT -1 OFFSET ?"
		args = append(args, offset)
	}
	return r.query(ctx, q, args...)
}

// Count returns the number of rows matching f.
func (r *MeasurementRepo) Count(ctx context.Context, f MeasurementFilter) (int, error) {
	where, args := f.where()
	var n int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM measurements"+where, args...).Scan(&n)
	return n, err
}

// SelectableIDs returns the ascending ids of selectable rows matching f.
func (r *MeasurementRepo) SelectableIDs(ctx context.Context, f MeasurementFilter) ([]int64, error) {
	where, args := f.where()
	if where == "" {
		where = " WHERE selectable = 1"
	} else {
		where += " AND selectable = 1"
	}
	return r.ids(ctx, "SELECT id FROM measurements"+where+" ORDER BY id", args...)
}

// Unreviewed returns selectable rows of a dataset whose WOCE flag is still
// the import-time placeholder.
func (r *MeasurementRepo) Unreviewed(ctx context.Context, datasetID string) ([]int64, error) {
	return r.ids(ctx, `
	SELECT id FROM measurements
	WHERE dataset_id = ? AND selectable = 1 AND woce_flag IN (?, ?) AND woce_user IS NULL
	ORDER BY id`, datasetID, flagNeeds, flagAssumedGood)
}

func (r *MeasurementRepo) ids(ctx context.Context, q string, args ...any) ([]int64, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ByIDs loads the given rows in id order. Unknown ids are skipped.
func (r *MeasurementRepo) ByIDs(ctx context.Context, ids []int64) ([]Measurement, error) {
	var out []Measurement
	for _, chunk := range chunks(ids) {
		ms, err := r.query(ctx, "SELECT "+measurementColumns+" FROM measurements WHERE id IN ("+placeholders(len(chunk))+") ORDER BY id", int64Args(chunk)...)
		if err != nil {
			return nil, err
		}
		out = append(out, ms...)
	}
	return out, nil
}

// ApplyOverride sets the WOCE flag and message of every id in one
// transaction and returns the number of rows changed. Non-selectable rows are
// never touched.
func (r *MeasurementRepo) ApplyOverride(ctx context.Context, ids []int64, flag qcflag.Flag, message, user string, at time.Time) (int64, error) {
	return r.updateChunks(ctx, ids, func(in string) (string, []any) {
		return `UPDATE measurements SET woce_flag = ?, woce_message = ?, woce_user = ?, woce_at = ?
		WHERE selectable = 1 AND id IN (` + in + `)`, []any{int(flag), message, user, at.UTC()}
	})
}

// CopyAutomatic copies each row's automatic flag and message into its WOCE
// columns.
func (r *MeasurementRepo) CopyAutomatic(ctx context.Context, ids []int64, user string, at time.Time) (int64, error) {
	return r.updateChunks(ctx, ids, func(in string) (string, []any) {
		return `UPDATE measurements SET woce_flag = auto_flag, woce_message = auto_message, woce_user = ?, woce_at = ?
		WHERE selectable = 1 AND id IN (` + in + `)`, []any{user, at.UTC()}
	})
}

func (r *MeasurementRepo) updateChunks(ctx context.Context, ids []int64, build func(in string) (string, []any)) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, chunk := range chunks(ids) {
		q, args := build(placeholders(len(chunk)))
		res, err := tx.ExecContext(ctx, q, append(args, int64Args(chunk)...)...)
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return total, nil
}

// Messages returns reviewer messages previously used, most frequent first.
func (r *MeasurementRepo) Messages(ctx context.Context, limit int) ([]MessageUse, error) {
	q := `SELECT woce_message, COUNT(*) AS n FROM measurements
	WHERE woce_user IS NOT NULL AND woce_message != ''
	GROUP BY woce_message ORDER BY n DESC, woce_message`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MessageUse
	for rows.Next() {
		var u MessageUse
		if err := rows.Scan(&u.Message, &u.Count); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func chunks(ids []int64) [][]int64 {
	var out [][]int64
	for len(ids) > idChunk {
		out = append(out, ids[:idChunk])
		ids = ids[idChunk:]
	}
	if len(ids) > 0 {
		out = append(out, ids)
	}
	return out
}
