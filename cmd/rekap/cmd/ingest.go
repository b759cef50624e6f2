package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/MeKo-Tech/rekap/internal/export"
	"github.com/MeKo-Tech/rekap/internal/pipeline"
)

// ingestCmd represents the ingest command.
var ingestCmd = &cobra.Command{
	Use:   "ingest <file.pdf|file.png|file.jpg>",
	Short: "Extract the recap and attach its supporting pages",
	Long: `Process one recap document and write its outputs to <out>/<job-id>/:

  result.json       recap rows, attachment groups and unassigned pages
  recap.xlsx        recap and attachment sheets (unless --no-xlsx)
  <CODE><NN>.pdf    one single-page PDF per attached page

Images are treated as a one-page recap without attachments.

Examples:
  rekap ingest recap.pdf
  rekap ingest recap.pdf --out /srv/rekap --job-id march-2026
  rekap ingest locked.pdf --password secret --no-xlsx`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		outDir := cfg.Output.Dir
		if cmd.Flags().Changed("out") {
			outDir, _ = cmd.Flags().GetString("out")
		}
		if cmd.Flags().Changed("password") {
			cfg.PDF.Password, _ = cmd.Flags().GetString("password")
		}
		opts := cfg.ToExportOptions()
		if noXLSX, _ := cmd.Flags().GetBool("no-xlsx"); noXLSX {
			opts.Workbook = false
		}
		jobID, _ := cmd.Flags().GetString("job-id")
		if jobID == "" {
			jobID = uuid.NewString()
		}

		logger := slog.Default()
		writer := export.NewWriter(outDir, logger)
		if _, err := writer.JobDir(jobID); err != nil {
			return err
		}

		progress := throttled(pipeline.NewMultiProgress(
			pipeline.NewConsoleProgress(cmd.ErrOrStderr()),
			pipeline.NewLogProgress(logger, slog.LevelDebug),
		), cfg.Output.ProgressInterval)
		ingester, err := newIngester(cfg, writer, progress, logger)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return runIngest(ctx, cmd.OutOrStdout(), ingester, writer, jobID, args[0], opts)
	},
}

// runIngest ingests path and writes the job outputs, then prints a summary.
func runIngest(ctx context.Context, out io.Writer, ingester *pipeline.Ingester, writer *export.Writer,
	jobID, path string, opts export.Options,
) error {
	if err := writer.Reset(jobID); err != nil {
		return fmt.Errorf("prepare outputs: %w", err)
	}
	res, err := ingester.Ingest(ctx, jobID, path)
	if err != nil {
		return fmt.Errorf("ingest %s: %w", path, err)
	}
	res.Source = filepath.Base(path)

	files, err := writer.Write(res, opts)
	if err != nil {
		return fmt.Errorf("write outputs: %w", err)
	}

	printSummary(out, res, files)
	return nil
}

func printSummary(out io.Writer, res *pipeline.Result, files export.Files) {
	_, _ = fmt.Fprintf(out, "Job:        %s\n", res.JobID)
	_, _ = fmt.Fprintf(out, "Rows:       %d (from %d table pages)\n", len(res.Rows()), res.TablePages)
	_, _ = fmt.Fprintf(out, "Attached:   %d pages in %d groups\n", res.AttachedCount(), len(res.Groups))
	_, _ = fmt.Fprintf(out, "Unassigned: %d pages\n", len(res.Unassigned))
	_, _ = fmt.Fprintf(out, "Manifest:   %s\n", files.Manifest)
	if files.Workbook != "" {
		_, _ = fmt.Fprintf(out, "Workbook:   %s\n", files.Workbook)
	}
}

func init() {
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().String("job-id", "", "job identifier and output directory name (default: random UUID)")
	ingestCmd.Flags().StringP("out", "o", "output", "output root directory")
	ingestCmd.Flags().String("password", "", "password for protected PDFs")
	ingestCmd.Flags().Bool("no-xlsx", false, "skip the Excel workbook")
}
