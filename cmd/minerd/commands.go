package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/tidwall/pretty"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the question-answering HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return appInstance.Serve(cmd.Context())
		},
	}
}

func newRunCmd() *cobra.Command {
	var (
		maxHTML int
		maxPDF  int
		color   bool
	)
	cmd := &cobra.Command{
		Use:   "run <question>",
		Short: "Runs the pipeline once and prints the result as JSON",
		Long: `run resolves the company named in the question, crawls its site with the
given caps, and prints the full result. The answer cache is bypassed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			question := strings.TrimSpace(strings.Join(args, " "))
			if question == "" {
				return errors.New("question required")
			}
			caps := appInstance.DefaultCaps()
			if cmd.Flags().Changed("max-html") {
				caps.MaxHTML = maxHTML
			}
			if cmd.Flags().Changed("max-pdf") {
				caps.MaxPDF = maxPDF
			}
			if caps.MaxHTML < 0 || caps.MaxPDF < 0 {
				return errors.New("caps must be non-negative")
			}
			res := appInstance.Ask(cmd.Context(), question, caps)
			return printJSON(cmd, res, color)
		},
	}
	cmd.Flags().IntVar(&maxHTML, "max-html", 0, "page cap (default crawler.max_html)")
	cmd.Flags().IntVar(&maxPDF, "max-pdf", 0, "file cap (default crawler.max_pdf)")
	cmd.Flags().BoolVar(&color, "color", false, "colorize JSON output")
	return cmd
}

func newForecastCmd() *cobra.Command {
	var color bool
	cmd := &cobra.Command{
		Use:   "forecast <symbol>",
		Short: "Prints the predictor's direction for a ticker",
		Long:  `forecast prints the neutral HOLD fallback and exits non-zero when the predictor fails.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			pred, predErr := appInstance.Predict(cmd.Context(), args[0])
			if err := printJSON(cmd, pred, color); err != nil {
				return err
			}
			if predErr != nil {
				return fmt.Errorf("predictor unavailable: %w", predErr)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&color, "color", false, "colorize JSON output")
	return cmd
}

func printJSON(cmd *cobra.Command, v any, color bool) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	out := pretty.Pretty(raw)
	if color {
		out = pretty.Color(out, nil)
	}
	if _, err := cmd.OutOrStdout().Write(out); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
