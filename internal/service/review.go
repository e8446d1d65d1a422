package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jask/fluxqc/internal/database"
	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/qcflag"
	"github.com/jask/fluxqc/internal/review"
	"github.com/jask/fluxqc/internal/selection"
)

// ErrWrongDataset is returned when a submission names rows of another dataset.
var ErrWrongDataset = errors.New("rows belong to another dataset")

// ReviewService loads dataset views and persists flag decisions. It
// implements review.Submitter.
type ReviewService struct {
	Datasets     *repository.DatasetRepo
	Measurements *repository.MeasurementRepo
	Reviewer     string
	Log          *zap.Logger

	RequireCommentForGood bool

	now func() time.Time
}

var _ review.Submitter = (*ReviewService)(nil)

// ViewQuery selects one page of a dataset.
type ViewQuery struct {
	DatasetID string
	Offset    int
	Limit     int
	WoceFlags []qcflag.Flag
	From      time.Time
	To        time.Time
}

func (q ViewQuery) filter() repository.MeasurementFilter {
	return repository.MeasurementFilter{DatasetID: q.DatasetID, From: q.From, To: q.To, WoceFlags: q.WoceFlags}
}

// View is one loaded page. Selectable lists the selectable rows of every
// page matching the query, so a selection can span pages.
type View struct {
	Dataset    repository.Dataset
	Query      ViewQuery
	Total      int
	Rows       []repository.Measurement
	Selectable []selection.RowID
}

// States converts the page into the flag states a review session works on.
func (v View) States() []review.RowFlagState {
	out := make([]review.RowFlagState, len(v.Rows))
	for i, m := range v.Rows {
		out[i] = review.RowFlagState{
			ID:              selection.RowID(m.ID),
			Selectable:      m.Selectable,
			AutoFlag:        m.AutoFlag,
			AutoMessage:     m.AutoMessage,
			OverrideFlag:    m.WoceFlag,
			OverrideMessage: m.WoceMessage,
		}
	}
	return out
}

// Pages is the number of pages at the query's limit.
func (v View) Pages() int {
	if v.Query.Limit <= 0 || v.Total == 0 {
		return 1
	}
	return (v.Total + v.Query.Limit - 1) / v.Query.Limit
}

// Page is the zero-based page index of the view.
func (v View) Page() int {
	if v.Query.Limit <= 0 {
		return 0
	}
	return v.Query.Offset / v.Query.Limit
}

func (s *ReviewService) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *ReviewService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return database.Now()
}

// LoadView reads one page of a dataset along with the selectable ids of
// the whole filtered view.
func (s *ReviewService) LoadView(ctx context.Context, q ViewQuery) (View, error) {
	ds, err := s.Datasets.Get(ctx, q.DatasetID)
	if err != nil {
		return View{}, fmt.Errorf("load dataset: %w", err)
	}
	q.DatasetID = ds.ID
	if q.Offset < 0 {
		q.Offset = 0
	}
	total, err := s.Measurements.Count(ctx, q.filter())
	if err != nil {
		return View{}, fmt.Errorf("count rows: %w", err)
	}
	if q.Limit > 0 && q.Offset >= total && total > 0 {
		q.Offset = ((total - 1) / q.Limit) * q.Limit
	}
	rows, err := s.Measurements.Page(ctx, q.filter(), q.Offset, q.Limit)
	if err != nil {
		return View{}, fmt.Errorf("load rows: %w", err)
	}
	ids, err := s.Measurements.SelectableIDs(ctx, q.filter())
	if err != nil {
		return View{}, fmt.Errorf("load selectable rows: %w", err)
	}
	selectable := make([]selection.RowID, len(ids))
	for i, id := range ids {
		selectable[i] = selection.RowID(id)
	}
	return View{Dataset: ds, Query: q, Total: total, Rows: rows, Selectable: selectable}, nil
}

// Submit persists a decision. The flag and comment are validated again
// since the store is the last line before disk.
func (s *ReviewService) Submit(ctx context.Context, sub review.Submission) error {
	if len(sub.IDs) == 0 {
		return nil
	}
	ids := make([]int64, len(sub.IDs))
	for i, id := range sub.IDs {
		ids[i] = int64(id)
	}
	if err := s.checkDataset(ctx, sub.DatasetID, ids); err != nil {
		return err
	}

	var (
		n   int64
		err error
	)
	at := s.clock()
	switch sub.Kind {
	case review.SubmitAcceptAutomatic:
		n, err = s.Measurements.CopyAutomatic(ctx, ids, s.Reviewer, at)
	default:
		if err := qcflag.ValidateDecision(sub.Flag, sub.Comment, s.RequireCommentForGood); err != nil {
			return err
		}
		n, err = s.Measurements.ApplyOverride(ctx, ids, sub.Flag, sub.Comment, s.Reviewer, at)
	}
	if err != nil {
		return fmt.Errorf("persist %s: %w", sub.Kind, err)
	}
	if err := s.Datasets.SetDirty(ctx, sub.DatasetID, true); err != nil {
		return fmt.Errorf("mark dirty: %w", err)
	}
	s.log().Info("flags persisted",
		zap.String("dataset", sub.DatasetID),
		zap.Stringer("kind", sub.Kind),
		zap.Stringer("flag", sub.Flag),
		zap.Int64("rows", n))
	return nil
}

func (s *ReviewService) checkDataset(ctx context.Context, datasetID string, ids []int64) error {
	rows, err := s.Measurements.ByIDs(ctx, ids)
	if err != nil {
		return err
	}
	for _, m := range rows {
		if m.DatasetID != datasetID {
			return fmt.Errorf("row %d: %w", m.ID, ErrWrongDataset)
		}
	}
	return nil
}

// AcceptAllAutomatic copies automatic QC into the WOCE columns of every
// row of the dataset that no reviewer has touched yet.
func (s *ReviewService) AcceptAllAutomatic(ctx context.Context, ref string) (int64, error) {
	ds, err := s.Datasets.Get(ctx, ref)
	if err != nil {
		return 0, err
	}
	ids, err := s.Measurements.Unreviewed(ctx, ds.ID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := s.Measurements.CopyAutomatic(ctx, ids, s.Reviewer, s.clock())
	if err != nil {
		return 0, err
	}
	if err := s.Datasets.SetDirty(ctx, ds.ID, true); err != nil {
		return n, err
	}
	s.log().Info("automatic QC accepted", zap.String("dataset", ds.ID), zap.Int64("rows", n))
	return n, nil
}

// MarkReviewed records that the reviewer has finished with the dataset.
func (s *ReviewService) MarkReviewed(ctx context.Context, ref string) error {
	ds, err := s.Datasets.Get(ctx, ref)
	if err != nil {
		return err
	}
	return s.Datasets.MarkReviewed(ctx, ds.ID, s.clock())
}
