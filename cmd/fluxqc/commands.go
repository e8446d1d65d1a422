package main

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/jask/fluxqc/internal/config"
	"github.com/jask/fluxqc/internal/service"
	"github.com/jask/fluxqc/internal/testdata"
)

func newReviewCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "review [dataset]",
		Short: "Open the review table, optionally straight into a dataset",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dataset := ""
			if len(args) == 1 {
				dataset = args[0]
			}
			return runReview(cmd, opts, dataset)
		},
	}
}

func newImportCmd(opts *rootOptions) *cobra.Command {
	var (
		instrument string
		tz         string
		jobs       int
	)
	cmd := &cobra.Command{
		Use:   "import <file or glob>...",
		Short: "Import CSV or XLSX flux files, optionally gzip, zstd or xz compressed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return fmt.Errorf("--tz: %w", err)
			}
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			svc := st.ingest()
			svc.Concurrency = jobs
			results, err := svc.ImportGlob(cmd.Context(), args, service.ImportOptions{Instrument: instrument, Location: loc})
			if err != nil {
				return err
			}
			return printImportResults(cmd, results)
		},
	}
	cmd.Flags().StringVar(&instrument, "instrument", "", "instrument name recorded with each dataset")
	cmd.Flags().StringVar(&tz, "tz", "UTC", "time zone of timestamps without an offset")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 4, "files parsed in parallel")
	return cmd
}

func printImportResults(cmd *cobra.Command, results []service.IngestResult) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	failed := 0
	for _, r := range results {
		switch {
		case r.Failed():
			failed++
			fmt.Fprintf(errOut, "failed %s: %v\n", r.Path, r.Errors[len(r.Errors)-1])
			continue
		case r.Duplicate:
			fmt.Fprintf(out, "skipped %s: identical content already imported\n", r.Name)
			continue
		}
		fmt.Fprintf(out, "imported %s: %d rows, %d gaps", r.Name, r.Imported, r.Gaps)
		if r.Compression != service.CompressionNone {
			fmt.Fprintf(out, " (%s)", r.Compression)
		}
		fmt.Fprintln(out)
		for _, e := range r.Errors {
			fmt.Fprintf(errOut, "  warning: %v\n", e)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(results))
	}
	return nil
}

func newDatasetsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "datasets",
		Aliases: []string{"ls"},
		Short:   "List imported datasets with their review progress",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.datasets.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no datasets")
				return nil
			}
			t := table.New().
				Border(lipgloss.NormalBorder()).
				Headers("NAME", "INSTRUMENT", "ROWS", "TO FLAG", "Q", "B", "REVIEWED")
			for _, ds := range list {
				reviewed := ""
				if ds.ReviewedAt != nil {
					reviewed = ds.ReviewedAt.Format(st.cfg.UI.DateFormat)
				}
				if ds.Dirty {
					reviewed += " *"
				}
				t.Row(ds.Name, ds.Instrument,
					strconv.Itoa(ds.Rows), strconv.Itoa(ds.NeedsFlag),
					strconv.Itoa(ds.Questionable), strconv.Itoa(ds.Bad), reviewed)
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.String())
			return nil
		},
	}
}

func newExportCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "export <dataset> <file.csv|file.xlsx>",
		Short: "Write a dataset with its automatic and WOCE flags",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.export().ExportFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rows to %s\n", n, args[1])
			return nil
		},
	}
}

func newAcceptCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "accept <dataset>",
		Short: "Accept the automatic QC flag for every unreviewed row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := st.review().AcceptAllAutomatic(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "accepted automatic QC on %d rows\n", n)
			return nil
		},
	}
}

func newReviewedCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "done <dataset>",
		Short: "Mark a dataset as reviewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.review().MarkReviewed(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s marked reviewed\n", args[0])
			return nil
		},
	}
}

func newSeedCmd(opts *rootOptions) *cobra.Command {
	var (
		name string
		gen  testdata.Options
	)
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import a synthetic flux dataset to try the review table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			var buf bytes.Buffer
			if _, err := testdata.WriteCSV(cmd.Context(), &buf, gen); err != nil {
				return err
			}
			res, err := st.ingest().ImportReader(cmd.Context(), name, &buf, service.ImportOptions{Instrument: "synthetic"})
			if err != nil {
				return err
			}
			return printImportResults(cmd, []service.IngestResult{res})
		},
	}
	cmd.Flags().StringVar(&name, "name", "synthetic.csv", "dataset name")
	cmd.Flags().IntVar(&gen.Rows, "rows", 500, "number of measurements")
	cmd.Flags().IntVar(&gen.GapEvery, "gap-every", 48, "insert a gap row after this many measurements, 0 for none")
	cmd.Flags().DurationVar(&gen.Interval, "interval", 30*time.Minute, "time between measurements")
	cmd.Flags().Uint64Var(&gen.Seed, "seed", 1, "random seed")
	return cmd
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dataset>",
		Short: "Delete a dataset and its review decisions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.maintenance().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

var errNeedYes = errors.New("reset deletes every dataset; pass --yes to confirm")

func newResetCmd(opts *rootOptions) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all datasets and review decisions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errNeedYes
			}
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.maintenance().Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all datasets removed")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or write the configuration file",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write the effective configuration to the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if err := config.Save(opts.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config written")
			return nil
		},
	}, &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database.path = %s\n", cfg.Database.Path)
			fmt.Fprintf(out, "database.migrations = %q\n", cfg.Database.Migrations)
			fmt.Fprintf(out, "review.reviewer = %s\n", cfg.Review.Reviewer)
			fmt.Fprintf(out, "review.page_size = %d\n", cfg.Review.PageSize)
			fmt.Fprintf(out, "review.require_comment_for_good = %t\n", cfg.Review.RequireCommentForGood)
			fmt.Fprintf(out, "ui.date_format = %s\n", cfg.UI.DateFormat)
			fmt.Fprintf(out, "ui.timezone = %s\n", cfg.UI.Timezone)
			fmt.Fprintf(out, "log.level = %s\n", cfg.Log.Level)
			fmt.Fprintf(out, "log.file = %s\n", cfg.Log.File)
			return nil
		},
	})
	return cmd
}
