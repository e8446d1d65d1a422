package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jask/fluxqc/internal/config"
	"github.com/jask/fluxqc/internal/database"
	"github.com/jask/fluxqc/internal/database/repository"
	"github.com/jask/fluxqc/internal/logging"
	"github.com/jask/fluxqc/internal/service"
	"github.com/jask/fluxqc/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "fluxqc",
		Short:         "Review and flag quality control of CO2 flux time series",
		Long:          "fluxqc imports flux measurement files and opens a terminal review table where automatic QC flags can be confirmed or overridden with WOCE flags.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReview(cmd, opts, "")
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/fluxqc/config.toml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newReviewCmd(opts),
		newImportCmd(opts),
		newDatasetsCmd(opts),
		newExportCmd(opts),
		newAcceptCmd(opts),
		newReviewedCmd(opts),
		newSeedCmd(opts),
		newDeleteCmd(opts),
		newResetCmd(opts),
		newConfigCmd(opts),
	)
	return root
}

// store is everything a command needs from the database.
type store struct {
	cfg          config.Config
	log          *zap.Logger
	db           *sql.DB
	datasets     *repository.DatasetRepo
	measurements *repository.MeasurementRepo
}

func openStore(ctx context.Context, opts *rootOptions) (*store, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log, opts.verbose)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}
	if err := database.RunMigrations(cfg.Database.Path, cfg.Database.Migrations); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := database.SeedDefaults(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("seed defaults: %w", err)
	}
	logger.Debug("store opened", zap.String("path", cfg.Database.Path))

	return &store{
		cfg:          cfg,
		log:          logger,
		db:           db,
		datasets:     repository.NewDatasetRepo(db),
		measurements: repository.NewMeasurementRepo(db),
	}, nil
}

func (s *store) Close() error {
	_ = s.log.Sync()
	return s.db.Close()
}

func (s *store) ingest() *service.IngestService {
	return &service.IngestService{Datasets: s.datasets, Log: s.log}
}

func (s *store) review() *service.ReviewService {
	return &service.ReviewService{
		Datasets:              s.datasets,
		Measurements:          s.measurements,
		Reviewer:              s.cfg.Review.Reviewer,
		Log:                   s.log,
		RequireCommentForGood: s.cfg.Review.RequireCommentForGood,
	}
}

func (s *store) export() *service.ExportService {
	return &service.ExportService{Datasets: s.datasets, Measurements: s.measurements, Log: s.log}
}

func (s *store) maintenance() *service.MaintenanceService {
	return &service.MaintenanceService{DB: s.db}
}

func runReview(cmd *cobra.Command, opts *rootOptions, dataset string) error {
	ctx := cmd.Context()
	st, err := openStore(ctx, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	app := tui.New(ctx, st.cfg,
		tui.Repos{Datasets: st.datasets},
		tui.Services{Review: st.review()},
		st.log, dataset,
	)
	p := tea.NewProgram(app,
		tea.WithContext(ctx),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	return nil
}
