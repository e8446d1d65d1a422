package repository

import (
	"context"
	"database/sql"

	"github.com/jask/fluxqc/internal/qcflag"
)

var (
	flagNeeds        = int(qcflag.NeedsFlag)
	flagAssumedGood  = int(qcflag.AssumedGood)
	flagQuestionable = int(qcflag.Questionable)
	flagBad          = int(qcflag.Bad)
	flagFatal        = int(qcflag.Fatal)
)

// FlagRepo handles the flag catalogue.
type FlagRepo struct {
	db *sql.DB
}

func NewFlagRepo(db *sql.DB) *FlagRepo {
	return &FlagRepo{db: db}
}

func (r *FlagRepo) Upsert(ctx context.Context, f FlagDefinition) error {
	_, err := r.db.ExecContext(ctx, `
	INSERT INTO flag_definitions(code, name, short, severity, assignable)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
	 name=excluded.name,
	 short=excluded.short,
	 severity=excluded.severity,
	 assignable=excluded.assignable;
	`, int(f.Code), f.Name, f.Short, f.Severity, f.Assignable)
	return err
}

func (r *FlagRepo) List(ctx context.Context) ([]FlagDefinition, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT code, name, short, severity, assignable FROM flag_definitions ORDER BY severity DESC, code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FlagDefinition
	for rows.Next() {
		var (
			f    FlagDefinition
			code int
		)
		if err := rows.Scan(&code, &f.Name, &f.Short, &f.Severity, &f.Assignable); err != nil {
			return nil, err
		}
		f.Code = qcflag.Flag(code)
		out = append(out, f)
	}
	return out, rows.Err()
}
