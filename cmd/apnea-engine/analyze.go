package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-apnea/internal/api"
	"github.com/miradorstack/mirador-apnea/internal/config"
	"github.com/miradorstack/mirador-apnea/internal/export"
	"github.com/miradorstack/mirador-apnea/internal/utils"
)

type analyzeOptions struct {
	input  string
	format string
}

func newAnalyzeCmd(root *rootOptions) *cobra.Command {
	opts := &analyzeOptions{}
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Analyze a session file offline",
		Long: `Analyze reads one analysis request as JSON (the same payload the gRPC service
accepts), runs the pipeline in-process and writes the finalized clusters as CSV or
the full result as JSON to stdout. Logs go to stderr.

Examples:
  # CSV export of a session
  apnea-engine analyze --input night.json

  # Full JSON result from stdin
  cat night.json | apnea-engine analyze --input - --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAnalyze(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.input, "input", "i", "-", "request JSON file, - for stdin")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "csv", "output format: csv or json")
	return cmd
}

func runAnalyze(cmd *cobra.Command, root *rootOptions, opts *analyzeOptions) error {
	if opts.format != "csv" && opts.format != "json" {
		return fmt.Errorf("unknown format %q, want csv or json", opts.format)
	}

	cfg, err := config.Load(root.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger := utils.NewLoggerTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.JSON)

	raw, err := readInput(cmd.InOrStdin(), opts.input)
	if err != nil {
		return err
	}
	req, err := api.DecodeAnalysisRequest(raw)
	if err != nil {
		return err
	}

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		return err
	}
	result, err := pipeline.Analyze(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(api.ToAnalysisResultDTO(result))
	}
	return export.WriteClustersCSV(out, result.Clusters)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	return raw, nil
}
