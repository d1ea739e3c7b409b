// Package arrowlake is the command-line entry point: one pipeline run per
// invocation, result rendered to stdout.
package arrowlake

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/arrowlake/arrowlake/internal/config"
	"github.com/arrowlake/arrowlake/internal/lakeerr"
	"github.com/arrowlake/arrowlake/internal/observability"
	"github.com/arrowlake/arrowlake/internal/pipeline"
	"github.com/arrowlake/arrowlake/internal/source"
)

const (
	exitOK      = 0
	exitFailed  = 1
	exitUsage   = 2
	serviceName = "arrowlake"
)

type Services struct {
	Loaders  []source.Loader
	Executor pipeline.QueryRunner
	Close    func()
}

type ServicesFunc func(ctx context.Context, cfg config.Config, rowLimit int, logger *slog.Logger) (Services, error)

type Options struct {
	Lookup   config.LookupFunc
	Stdout   io.Writer
	Stderr   io.Writer
	Services ServicesFunc
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	lookup := defaults.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	services := defaults.Services
	if services == nil {
		services = DefaultServices
	}

	cfg, err := config.Load(serviceName, lookup)
	if err != nil {
		reportFailure(stderr, pipeline.StateConfiguring, lakeerr.E(lakeerr.KindConfig, "load environment", err))
		return exitFailed
	}

	fs := flag.NewFlagSet(serviceName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", cfg.Sources.File, "source config document (.toml, .yaml or .json)")
	sqlText := fs.String("sql", "", "SQL query to run")
	sqlFile := fs.String("sql-file", "", "file holding the SQL query")
	format := fs.String("format", string(FormatTable), "output format: table, csv or json")
	rowLimit := fs.Int("row-limit", cfg.Query.RowLimit, "maximum rows returned (0 means no limit)")
	sequential := fs.Bool("sequential", cfg.Pipeline.Sequential, "load sources one at a time")
	timeout := fs.Duration("timeout", 0, "overall run timeout (e.g. 10m)")
	metricsFile := fs.String("metrics-file", cfg.Observability.MetricsTextfile, "write Prometheus metrics to this file after the run")
	fs.Usage = func() { writeUsage(fs) }

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "unexpected arguments: %s\n\n", strings.Join(fs.Args(), " "))
		writeUsage(fs)
		return exitUsage
	}
	outputFormat, err := ParseFormat(*format)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n", err)
		return exitUsage
	}
	if *rowLimit < 0 {
		_, _ = fmt.Fprintln(stderr, "-row-limit must be >= 0")
		return exitUsage
	}
	query, err := resolveSQL(*sqlText, *sqlFile)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "%v\n\n", err)
		writeUsage(fs)
		return exitUsage
	}

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	logger := observability.NewLogger(cfg, stderr)
	wired, err := services(ctx, cfg, *rowLimit, logger)
	if err != nil {
		reportFailure(stderr, pipeline.StateConfiguring, err)
		return exitFailed
	}
	if wired.Close != nil {
		defer wired.Close()
	}

	service := &pipeline.Service{
		Config: pipeline.ConfigLoaderFunc(func(context.Context) (config.SourceConfig, error) {
			return config.LoadSourceConfig(*configPath, lookup)
		}),
		Loaders:  wired.Loaders,
		Executor: wired.Executor,
		Observer: observability.NewPipelineObserver(logger),
		Options: pipeline.Options{
			Sequential:   *sequential,
			LoadTimeout:  cfg.Pipeline.LoadTimeout,
			QueryTimeout: cfg.Pipeline.QueryTimeout,
		},
	}

	run, err := service.Run(ctx, query)
	defer run.Close()

	if *metricsFile != "" {
		if werr := observability.WriteMetricsTextfile(*metricsFile); werr != nil {
			logger.Warn("metrics textfile not written", slog.Any("error", werr))
		}
	}

	if err != nil {
		var runErr *pipeline.RunError
		if errors.As(err, &runErr) {
			reportRunError(stderr, runErr)
		} else {
			reportFailure(stderr, pipeline.StateFailed, err)
		}
		return exitFailed
	}

	if err := Render(stdout, outputFormat, run.Result); err != nil {
		_, _ = fmt.Fprintf(stderr, "%s: render result: %v\n", serviceName, err)
		return exitFailed
	}
	return exitOK
}

func resolveSQL(sqlText, sqlFile string) (string, error) {
	sqlText = strings.TrimSpace(sqlText)
	sqlFile = strings.TrimSpace(sqlFile)
	switch {
	case sqlText != "" && sqlFile != "":
		return "", fmt.Errorf("-sql and -sql-file are mutually exclusive")
	case sqlFile != "":
		data, err := os.ReadFile(sqlFile)
		if err != nil {
			return "", fmt.Errorf("read -sql-file: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return "", fmt.Errorf("-sql-file %s is empty", sqlFile)
		}
		return string(data), nil
	case sqlText != "":
		return sqlText, nil
	default:
		return "", fmt.Errorf("one of -sql or -sql-file is required")
	}
}

func reportRunError(w io.Writer, runErr *pipeline.RunError) {
	message := describe(runErr.Err)
	if runErr.Source != "" {
		message = string(runErr.Source) + " source: " + message
	}
	_, _ = fmt.Fprintf(w, "%s: %s: %s: %s\n", serviceName, runErr.Stage, runErr.Kind(), message)
}

func reportFailure(w io.Writer, stage pipeline.State, err error) {
	kind := lakeerr.KindOf(err)
	if kind == "" {
		kind = lakeerr.KindConfig
	}
	_, _ = fmt.Fprintf(w, "%s: %s: %s: %s\n", serviceName, stage, kind, describe(err))
}

// describe renders err without repeating the kind of its outermost
// classified error.
func describe(err error) string {
	var classified *lakeerr.Error
	if !errors.As(err, &classified) || classified.Err == nil {
		return err.Error()
	}
	if classified.Op == "" {
		return classified.Err.Error()
	}
	return classified.Op + ": " + classified.Err.Error()
}

func writeUsage(fs *flag.FlagSet) {
	w := fs.Output()
	_, _ = fmt.Fprintln(w, "usage: arrowlake [flags] -sql <query>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "Loads the configured object store, warehouse and table format sources,")
	_, _ = fmt.Fprintln(w, "registers them as tables and runs one query over them.")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "flags:")
	fs.PrintDefaults()
}
