package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/urlhealth/internal/aggregate"
	"github.com/JakeFAU/urlhealth/internal/dispatcher"
	"github.com/JakeFAU/urlhealth/internal/id/uuid"
	"github.com/JakeFAU/urlhealth/internal/intake"
	"github.com/JakeFAU/urlhealth/internal/probe"
	"github.com/JakeFAU/urlhealth/internal/server"
)

// Input formats accepted by check.
const (
	inputCSV  = "csv"
	inputJSON = "json"
)

type checkOptions struct {
	format string
	out    string
	quiet  bool
}

func newCheckCmd(opts *rootOptions) *cobra.Command {
	co := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check [file]",
		Short: "Probe records from a CSV or JSON file",
		Long: `Reads records from file (or stdin when file is "-" or omitted), probes
them with the same pipeline the HTTP service uses, and writes one JSON event
per record to stdout. --out also saves the results as CSV with the columns
id,domain,protocol,response_code,response_time,full_response.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(cmd, opts, co, args)
		},
	}
	cmd.Flags().StringVar(&co.format, "format", "", "input format: csv or json (default: from file extension, else json)")
	cmd.Flags().StringVarP(&co.out, "out", "o", "", "write results as CSV to this path")
	cmd.Flags().BoolVarP(&co.quiet, "quiet", "q", false, "do not stream events to stdout")
	return cmd
}

func runCheck(cmd *cobra.Command, opts *rootOptions, co *checkOptions, args []string) error {
	logger := opts.logger.Named("check")
	path := "-"
	if len(args) == 1 {
		path = args[0]
	}
	format, err := inputFormat(co.format, path)
	if err != nil {
		return err
	}

	records, err := readRecords(cmd.InOrStdin(), path, format, logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pipeline, err := server.NewPipeline(ctx, opts.cfg, opts.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize probe pipeline: %w", err)
	}
	defer func() {
		if cerr := pipeline.Close(context.WithoutCancel(ctx)); cerr != nil {
			logger.Warn("pipeline close failed", zap.Error(cerr))
		}
	}()

	var results *intake.ResultWriter
	if co.out != "" {
		f, err := os.Create(co.out)
		if err != nil {
			return fmt.Errorf("create results file: %w", err)
		}
		defer func() {
			if cerr := f.Close(); cerr != nil {
				logger.Warn("close results file failed", zap.Error(cerr))
			}
		}()
		results = intake.NewResultWriter(f)
	}

	batchID, err := uuid.New().NewID()
	if err != nil {
		return fmt.Errorf("generate batch id: %w", err)
	}
	state := aggregate.New()
	events := pipeline.Dispatcher.Run(ctx, dispatcher.Batch{ID: batchID, Records: records}, pipeline.Limiters(), state)

	var writeErr error
	enc := json.NewEncoder(cmd.OutOrStdout())
	for evt := range events {
		if writeErr != nil {
			continue
		}
		writeErr = emit(enc, results, evt, co.quiet)
	}
	if writeErr != nil {
		return writeErr
	}
	if results != nil {
		if err := results.Flush(); err != nil {
			return fmt.Errorf("flush results: %w", err)
		}
	}

	snap := state.Snapshot()
	logger.Info("check finished",
		zap.String("batch_id", batchID),
		zap.Int("total", snap.TotalRecords),
		zap.Int("processed", snap.RecordsProcessed),
		zap.Int("success", snap.SuccessCount),
		zap.Int("failure", snap.FailureCount),
	)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("check interrupted: %w", err)
	}
	return nil
}

func emit(enc *json.Encoder, results *intake.ResultWriter, evt probe.Event, quiet bool) error {
	if !quiet {
		if err := enc.Encode(evt); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if results != nil {
		if err := results.Write(evt.Result); err != nil {
			return err
		}
	}
	return nil
}

func inputFormat(flagValue, path string) (string, error) {
	switch strings.ToLower(flagValue) {
	case inputCSV:
		return inputCSV, nil
	case inputJSON:
		return inputJSON, nil
	case "":
		if strings.EqualFold(filepath.Ext(path), ".csv") {
			return inputCSV, nil
		}
		return inputJSON, nil
	default:
		return "", fmt.Errorf("unknown input format %q (want csv or json)", flagValue)
	}
}

func readRecords(stdin io.Reader, path, format string, logger *zap.Logger) ([]probe.Record, error) {
	in := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	if format == inputJSON {
		records, err := intake.DecodeJSON(in)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		return records, nil
	}

	records, stats, err := intake.ParseCSV(in)
	if err != nil {
		if errors.Is(err, intake.ErrNoRecords) {
			return nil, fmt.Errorf("read %s: no valid data in CSV file", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	logger.Info("csv loaded",
		zap.Int("rows", stats.Rows),
		zap.Int("records", len(records)),
		zap.Int("dropped_empty", stats.DroppedEmpty),
		zap.Int("dropped_duplicate", stats.DroppedDuplicate),
	)
	return records, nil
}
