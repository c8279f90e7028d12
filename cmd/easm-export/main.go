// easm-export streams assets from an attack surface workspace to a
// local file, with resumable pagination.
//
// Two export paths are supported:
//
//  1. CLIENT-SIDE STREAMING (default):
//     easm-export -filter 'kind = "domain"' -out domains.jsonl
//
//  2. SERVER-SIDE EXPORT (the service builds the file, we download it):
//     easm-export -server-export -columns name,kind -filter '...' -out assets.csv
//
// Credentials come from the environment: TENANT_ID, CLIENT_ID,
// CLIENT_SECRET, SUBSCRIPTION_ID, and optionally WORKSPACE_NAME —
// or from a YAML config file via -config.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/easmkit/sdk/pkg/checkpoint"
	"github.com/easmkit/sdk/pkg/core"
	"github.com/easmkit/sdk/pkg/easm"
	"github.com/easmkit/sdk/pkg/health"
	"github.com/easmkit/sdk/pkg/metrics"
)

const (
	appName    = "easm-export"
	appVersion = "1.0.0"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (default: environment variables)")

		workspace = flag.String("workspace", "", "Workspace name (default: WORKSPACE_NAME env)")
		filter    = flag.String("filter", "", "Asset query filter")
		orderBy   = flag.String("orderby", "", "Sort expression")
		out       = flag.String("out", "", "Output file (default: stdout)")

		pageSize  = flag.Int("page-size", 100, "Records per page (1-100)")
		maxAssets = flag.Int("max-assets", 0, "Stop after this many records (0 = unbounded)")
		maxPages  = flag.Int("max-pages", 0, "Stop after this many pages (0 = unbounded)")
		mark      = flag.Bool("mark", false, "Use cursor pagination instead of skip/offset")

		checkpointPath = flag.String("checkpoint", "", "Checkpoint file (.db/.sqlite for SQLite, else JSON)")
		queryName      = flag.String("query-name", "default", "Checkpoint row name (SQLite checkpoints)")
		resumeFrom     = flag.String("resume-from", "", "Resume position: page number, mark:<cursor>, checkpoint JSON, or @file")

		serverExport = flag.Bool("server-export", false, "Run a server-side export task and download the result")
		columns      = flag.String("columns", "", "Comma-separated export columns (server-side export)")
		fileName     = flag.String("file-name", "assets.csv", "Server-side export file name")
		waitTimeout  = flag.Duration("wait-timeout", 30*time.Minute, "Server-side export wait timeout")

		doctor      = flag.Bool("doctor", false, "Run preflight checks and exit")
		rateLimit   = flag.Float64("rate", 0, "Requests per second (0 = unlimited)")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
		logLevel    = flag.String("log-level", "info", "Log level: debug, info, warn, error, silent")
		version     = flag.Bool("version", false, "Print version and exit")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s %s\n", appName, appVersion)
		return
	}

	logger := core.NewDefaultLogger(appName, core.ParseLogLevel(*logLevel))

	if err := run(logger, runOptions{
		configPath:     *configPath,
		workspace:      *workspace,
		filter:         *filter,
		orderBy:        *orderBy,
		out:            *out,
		pageSize:       *pageSize,
		maxAssets:      *maxAssets,
		maxPages:       *maxPages,
		markMode:       *mark,
		checkpointPath: *checkpointPath,
		queryName:      *queryName,
		resumeFrom:     *resumeFrom,
		serverExport:   *serverExport,
		columns:        *columns,
		fileName:       *fileName,
		waitTimeout:    *waitTimeout,
		doctor:         *doctor,
		rateLimit:      *rateLimit,
		metricsAddr:    *metricsAddr,
	}); err != nil {
		logger.Error("%v", err)
		os.Exit(1)
	}
}

type runOptions struct {
	configPath     string
	workspace      string
	filter         string
	orderBy        string
	out            string
	pageSize       int
	maxAssets      int
	maxPages       int
	markMode       bool
	checkpointPath string
	queryName      string
	resumeFrom     string
	serverExport   bool
	columns        string
	fileName       string
	waitTimeout    time.Duration
	doctor         bool
	rateLimit      float64
	metricsAddr    string
}

func run(logger core.Logger, opts runOptions) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sessionOpts := []easm.Option{easm.WithLogger(logger)}
	if opts.rateLimit > 0 {
		sessionOpts = append(sessionOpts, easm.WithRateLimit(opts.rateLimit, 1))
	}
	if opts.metricsAddr != "" {
		collector := metrics.NewPrometheusCollector(&metrics.PrometheusConfig{
			RegisterDefaultMetrics: true,
		})
		sessionOpts = append(sessionOpts, easm.WithMetrics(collector))
		go func() {
			logger.Info("serving metrics on %s", opts.metricsAddr)
			if err := http.ListenAndServe(opts.metricsAddr, collector.Handler()); err != nil {
				logger.Error("metrics server: %v", err)
			}
		}()
	}

	newSession := func() (*easm.Session, error) {
		if opts.configPath != "" {
			return easm.NewFromFile(opts.configPath, sessionOpts...)
		}
		return easm.NewFromEnv(sessionOpts...)
	}

	if opts.doctor {
		// A partial environment should still produce a report, so the
		// session is allowed to fail here.
		session, _ := newSession()
		return runDoctor(ctx, session, opts)
	}

	session, err := newSession()
	if err != nil {
		return err
	}
	if _, err := session.GetWorkspaces(ctx); err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}

	if opts.serverExport {
		return runServerExport(ctx, session, logger, opts)
	}
	return runStreamExport(ctx, session, logger, opts)
}

// runDoctor runs the preflight checks and prints the report as JSON.
// A non-healthy report is an error so the exit code reflects it.
func runDoctor(ctx context.Context, session *easm.Session, opts runOptions) error {
	endpoint := easm.DefaultManagementEndpoint
	if session != nil {
		endpoint = session.ManagementEndpoint()
	}
	outDir := "."
	if opts.out != "" {
		outDir = filepath.Dir(opts.out)
	}

	doctor := health.NewDoctor([]health.Checker{
		&health.EnvCheck{
			Required:    []string{"TENANT_ID", "CLIENT_ID", "CLIENT_SECRET", "SUBSCRIPTION_ID"},
			Recommended: []string{"WORKSPACE_NAME"},
		},
		&health.HTTPCheck{CheckName: "management_endpoint", URL: endpoint},
		&health.DiskCheck{Path: outDir, MinFreeBytes: 100 << 20},
	})
	if session != nil {
		doctor.Register(&health.TokenCheck{Source: session.TokenManager()})
	} else {
		doctor.Register(&health.TokenCheck{})
	}

	report := doctor.Run(ctx)

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(report); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	if !report.Healthy() {
		return fmt.Errorf("preflight checks reported %s", report.Status)
	}
	return nil
}

// runStreamExport pages assets client-side and writes one JSON object
// per line.
func runStreamExport(ctx context.Context, session *easm.Session, logger core.Logger, opts runOptions) error {
	pageOpts := easm.PageOptions{
		Filter:       opts.filter,
		OrderBy:      opts.orderBy,
		PageSize:     opts.pageSize,
		MaxAssets:    opts.maxAssets,
		MaxPageCount: opts.maxPages,
		GetAll:       true,
	}
	if opts.markMode {
		pageOpts.Mark = easm.StartMark
	}

	if opts.resumeFrom != "" {
		resume, err := resolveResume(opts.resumeFrom)
		if err != nil {
			return err
		}
		if resume.HasPage {
			pageOpts.Page = resume.Page
		}
		if resume.Mark != "" {
			pageOpts.Mark = resume.Mark
		}
		logger.Info("resuming from page=%d mark=%q", resume.Page, resume.Mark)
	}

	store, closeStore, err := openCheckpointStore(opts)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeStore()
		if opts.resumeFrom == "" {
			if cp, err := store.Load(); err != nil {
				return fmt.Errorf("load checkpoint: %w", err)
			} else if cp != nil && !cp.Last {
				resume := cp.ResumePoint()
				if resume.HasPage {
					pageOpts.Page = resume.Page
				}
				if resume.Mark != "" {
					pageOpts.Mark = resume.Mark
				}
				logger.Info("resuming from checkpoint: %d pages done, %d assets emitted",
					cp.PagesCompleted, cp.AssetsEmitted)
			}
		}
		pageOpts.Progress = store.Save
	}

	output := os.Stdout
	if opts.out != "" {
		f, err := os.Create(opts.out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		output = f
	}
	writer := bufio.NewWriter(output)
	defer writer.Flush()

	stream, err := session.StreamAssets(ctx, opts.workspace, pageOpts)
	if err != nil {
		return err
	}

	encoder := json.NewEncoder(writer)
	count := 0
	for row, err := range stream {
		if err != nil {
			return fmt.Errorf("after %d assets: %w", count, err)
		}
		if err := encoder.Encode(row); err != nil {
			return fmt.Errorf("write output: %w", err)
		}
		count++
	}
	logger.Info("exported %d assets", count)
	return nil
}

// runServerExport submits an export task, waits for it, and downloads
// the artifact.
func runServerExport(ctx context.Context, session *easm.Session, logger core.Logger, opts runOptions) error {
	if opts.columns == "" {
		return fmt.Errorf("-columns is required with -server-export")
	}
	if opts.out == "" {
		return fmt.Errorf("-out is required with -server-export")
	}
	cols := strings.Split(opts.columns, ",")
	for i := range cols {
		cols[i] = strings.TrimSpace(cols[i])
	}

	taskID, err := session.CreateAssetsExportTask(ctx, opts.workspace, cols, opts.filter, opts.fileName, opts.orderBy)
	if err != nil {
		return err
	}
	logger.Info("export task %s submitted", taskID)

	task, err := session.WaitForTask(ctx, opts.workspace, taskID, 5*time.Second, opts.waitTimeout)
	if err != nil {
		return err
	}
	if task.Failed() {
		code, message := task.FailureDetails()
		return fmt.Errorf("export task failed: %s %s", code, message)
	}

	data, err := session.DownloadTask(ctx, opts.workspace, taskID)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, data, 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	logger.Info("wrote %d bytes to %s", len(data), opts.out)
	return nil
}

// resolveResume parses -resume-from, following one level of @file
// indirection.
func resolveResume(raw string) (checkpoint.Resume, error) {
	if strings.HasPrefix(raw, "@") {
		data, err := os.ReadFile(strings.TrimPrefix(raw, "@"))
		if err != nil {
			return checkpoint.Resume{}, fmt.Errorf("read resume file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	}
	return checkpoint.ParseResume(raw)
}

// openCheckpointStore picks the store implementation by extension.
func openCheckpointStore(opts runOptions) (checkpoint.Store, func(), error) {
	if opts.checkpointPath == "" {
		return nil, nil, nil
	}
	lower := strings.ToLower(opts.checkpointPath)
	if strings.HasSuffix(lower, ".db") || strings.HasSuffix(lower, ".sqlite") {
		store, err := checkpoint.NewSQLiteStore(opts.checkpointPath, opts.queryName)
		if err != nil {
			return nil, nil, fmt.Errorf("open checkpoint db: %w", err)
		}
		return store, func() { store.Close() }, nil
	}
	return checkpoint.NewFileStore(opts.checkpointPath), func() {}, nil
}
