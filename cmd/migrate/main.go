package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/seafleet/pivotx/app/migrator"
	"github.com/seafleet/pivotx/pkg/db/watermark"
	"github.com/seafleet/pivotx/pkg/orchestrator"
)

func main() {
	mode := flag.String("mode", "full",
		"run mode: full, backfill, streaming, dual-write, reprocess, status")
	cutoffArg := flag.String("cutoff", "",
		"backfill upper boundary (e.g. 2025-06-01 00:00:00 or RFC3339); defaults to server time")
	dropTables := flag.Bool("drop-tables", false,
		"drop and recreate destination tables before backfilling")
	failedFile := flag.String("failed-file", "",
		"failed-chunks CSV to replay in reprocess mode; defaults to FAILED_CHUNKS_FILE")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cutoff *time.Time
	if *cutoffArg != "" {
		t, err := watermark.ParseCutoff(*cutoffArg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -cutoff: %v\n", err)
			os.Exit(2)
		}
		cutoff = &t
	}

	app, err := migrator.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	var summary orchestrator.Summary
	var runErr error
	exitCode := 0

	switch *mode {
	case "full":
		summary, runErr = app.RunFull(ctx, *dropTables)
		exitCode = summaryExit(summary)
	case "backfill":
		summary, runErr = app.RunBackfill(ctx, cutoff, *dropTables)
		exitCode = summaryExit(summary)
	case "streaming":
		runErr = app.RunStreaming(ctx)
	case "dual-write":
		runErr = app.RunDualWrite(ctx)
	case "reprocess":
		path := *failedFile
		if path == "" {
			path = app.Config.FailureFile
		}
		summary, runErr = app.RunReprocess(ctx, path)
		exitCode = summaryExit(summary)
	case "status":
		report, err := app.Status(ctx)
		if err != nil {
			runErr = err
			break
		}
		fmt.Print(report)
	default:
		fmt.Fprintf(os.Stderr, "unknown -mode %q\n", *mode)
		os.Exit(2)
	}

	if runErr != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", runErr)
		os.Exit(1)
	}
	os.Exit(exitCode)
}

// summaryExit maps a fleet summary to the process exit code: partial failures
// exit non-zero so operators notice and reprocess.
func summaryExit(s orchestrator.Summary) int {
	if s.Failed > 0 {
		return 3
	}
	return 0
}
