package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/drivercheck/drivercheck-bot/config"
	"github.com/drivercheck/drivercheck-bot/internal/imports"
	"github.com/drivercheck/drivercheck-bot/internal/sheet"
)

type importFlags struct {
	commit    bool
	actor     string
	reporter  string
	maxErrors int
}

func importCmd() *cobra.Command {
	flags := importFlags{}

	cmd := &cobra.Command{
		Use:   "import reports|users FILE.xlsx",
		Short: "Validate and import a spreadsheet",
		Long: `Read an .xlsx workbook, validate every row and, for incident reports,
classify each comment. Nothing is stored unless --commit is given.

Press Ctrl+C to stop after the current row.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := imports.ParseKind(args[0])
			if err != nil {
				return err
			}
			return runImport(cmd, kind, args[1], flags)
		},
	}

	cmd.Flags().BoolVar(&flags.commit, "commit", false, "store importable rows when the run finishes")
	cmd.Flags().StringVar(&flags.actor, "actor", "cli", "actor written to the audit log")
	cmd.Flags().StringVar(&flags.reporter, "reporter", "cli", "reporter id stored on imported reports")
	cmd.Flags().IntVar(&flags.maxErrors, "max-errors", 20, "row errors to print (0 for all)")
	return cmd
}

func runImport(cmd *cobra.Command, kind imports.Kind, path string, flags importFlags) error {
	required := []string{"DRIVERCHECK_DATA_KEY"}
	if kind == imports.KindReports {
		required = append(required, "GEMINI_API_KEY")
	}
	cfg, err := config.Load(required...)
	if err != nil {
		return err
	}
	index, err := loadTaxonomy()
	if err != nil {
		return err
	}

	records, err := readRecords(path, kind)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var classifier imports.Classifier
	var existing imports.Existing
	if kind == imports.KindReports {
		pipeline, err := newPipeline(cmd.Context(), cfg, index, store)
		if err != nil {
			return err
		}
		classifier = pipeline
	} else {
		profiles, err := store.ListProfiles()
		if err != nil {
			return fmt.Errorf("failed to load existing profiles: %w", err)
		}
		existing = imports.SnapshotFromProfiles(profiles)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %d %s rows from %s\n", titleStyle.Render("Importing"), len(records), kind, filepath.Base(path))

	stopNotice := context.AfterFunc(cmd.Context(), func() {
		fmt.Fprintln(cmd.ErrOrStderr(), warnStyle.Render("\nInterrupted, stopping after the current row..."))
	})
	defer stopNotice()

	bar := newProgressBar(cmd.ErrOrStderr(), len(records), kind)
	summary := imports.NewCoordinator(kind, classifier, existing).Run(cmd.Context(), records, imports.RunOptions{
		OnUpdate: func(r imports.Record) {
			if r.Status.Terminal() {
				_ = bar.Add(1)
			}
		},
		OnQuotaExhausted: func(err error) {
			log.Warn().Err(err).Msg("classification quota exhausted, skipping remaining rows")
		},
	})
	_ = bar.Finish()

	printSummary(out, summary, flags.maxErrors)

	if !flags.commit {
		fmt.Fprintln(out, mutedStyle.Render("Dry run: nothing stored. Re-run with --commit to import."))
		return nil
	}
	if summary.Cancelled {
		return errors.New("run was cancelled, nothing stored")
	}

	result, err := imports.NewCommitter(store, index).Commit(kind, summary.Records, imports.CommitOptions{
		Actor:      flags.actor,
		ReporterID: flags.reporter,
		FileName:   filepath.Base(path),
	})
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	msg := fmt.Sprintf("Stored %d %s", result.Imported, kind)
	if result.Degraded > 0 {
		msg += fmt.Sprintf(" (%d with the fallback category)", result.Degraded)
	}
	fmt.Fprintln(out, successStyle.Render(msg))
	if len(result.Ignored) > 0 {
		fmt.Fprintln(out, mutedStyle.Render(fmt.Sprintf("%d rows were not importable", len(result.Ignored))))
	}
	return nil
}

// readRecords reads the workbook at path and extracts the rows of kind.
func readRecords(path string, kind imports.Kind) ([]imports.Record, error) {
	if !strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return nil, fmt.Errorf("%s is not an .xlsx file", path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	grid, err := sheet.ReadWorkbook(f)
	if err != nil {
		return nil, err
	}

	records, err := imports.Load(grid, kind)
	if err != nil {
		var missing *sheet.MissingColumnsError
		if errors.As(err, &missing) {
			return nil, fmt.Errorf("the sheet is missing required columns: %s", strings.Join(missing.Fields, ", "))
		}
		if errors.Is(err, imports.ErrNoRows) {
			return nil, errors.New("the sheet has a header but no data rows")
		}
		return nil, err
	}
	return records, nil
}

func newProgressBar(w io.Writer, total int, kind imports.Kind) *progressbar.ProgressBar {
	desc := "[cyan][bold]Validating rows...[reset]"
	if kind == imports.KindReports {
		desc = "[cyan][bold]Classifying reports...[reset]"
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

// printSummary prints the run counts followed by at most limit row errors.
func printSummary(w io.Writer, s imports.Summary, limit int) {
	fmt.Fprintf(w, "\n%s %s\n", titleStyle.Render("Result:"), s.String())
	if s.Cancelled {
		fmt.Fprintln(w, warnStyle.Render("Cancelled before all rows were processed."))
	}
	if s.QuotaExhausted {
		fmt.Fprintln(w, warnStyle.Render("Classification quota exhausted; remaining rows were skipped."))
	}

	listed, more := 0, 0
	for _, r := range s.Records {
		if len(r.Errors) == 0 {
			continue
		}
		if limit > 0 && listed == limit {
			more++
			continue
		}
		if listed == 0 {
			fmt.Fprintln(w, titleStyle.Render("Rows with errors:"))
		}
		fmt.Fprintf(w, "  %s %s\n", errorStyle.Render(fmt.Sprintf("row %d:", r.RowID)), strings.Join(r.Errors, "; "))
		listed++
	}
	if more > 0 {
		fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("... and %d more rows with errors", more)))
	}
}
