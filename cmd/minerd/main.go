// Package main is the minerd entrypoint.
//
// Subcommands:
//   - serve: builds the application from config (YAML file plus MINER_* env
//     overrides) and serves the HTTP API until SIGINT or SIGTERM.
//   - run <question>: executes the pipeline once, bypassing the answer cache,
//     and prints the result as JSON. --max-html and --max-pdf override the
//     crawler.max_html and crawler.max_pdf caps.
//   - forecast <symbol>: prints the predictor's direction, or the neutral HOLD
//     fallback with a non-zero exit when the predictor is unreachable.
//
// Backends are chosen in config: memory or postgres for the chunk index,
// memory or redis for the answer cache, local or gcs for the document archive,
// and Pub/Sub for run events when a project and topic are set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := execute(ctx, newRootCmd())
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
