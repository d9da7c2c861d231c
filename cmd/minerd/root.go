package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/disclosure-miner/internal/config"
	"github.com/JakeFAU/disclosure-miner/internal/forecast"
	"github.com/JakeFAU/disclosure-miner/internal/pipeline"
	"github.com/JakeFAU/disclosure-miner/internal/server"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what the subcommands need from the application. Tests inject a fake
// through newApp.
type App interface {
	Close()
	Serve(ctx context.Context) error
	Ask(ctx context.Context, question string, caps pipeline.Caps) pipeline.Result
	DefaultCaps() pipeline.Caps
	Predict(ctx context.Context, symbol string) (forecast.Prediction, error)
}

// newApp is the application factory.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	app, err := server.Build(ctx, &cfg)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return serverApp{app}, nil
}

// serverApp adapts server.App to the command interface.
type serverApp struct {
	*server.App
}

func (a serverApp) Serve(ctx context.Context) error {
	return a.App.Run(ctx)
}

func (a serverApp) Ask(ctx context.Context, question string, caps pipeline.Caps) pipeline.Result {
	company, matched := a.Registry().Resolve(question)
	return a.Service().Run(ctx, company, matched, question, caps, pipeline.ModeAnswer)
}

func (a serverApp) DefaultCaps() pipeline.Caps {
	cfg := a.Config()
	return pipeline.Caps{MaxHTML: cfg.Crawler.MaxHTML, MaxPDF: cfg.Crawler.MaxPDF}
}

func (a serverApp) Predict(ctx context.Context, symbol string) (forecast.Prediction, error) {
	return forecast.PredictOrFallback(ctx, a.Predictor(), symbol, a.Logger())
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "minerd",
		Short: "Crawls company disclosure sites and answers questions about their financials.",
		Long: `minerd discovers investor-relations pages and report PDFs on a company's
website, indexes the relevant text, and mines financial metrics such as net
profit and deposits to answer natural-language questions.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" {
				return nil
			}
			appInstance, err := newApp(cmd.Context(), cfgPath)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (YAML); MINER_* env vars override it")

	cmd.AddCommand(newServeCmd(), newRunCmd(), newForecastCmd())
	return cmd
}

// execute runs the command tree and closes the App the executed command
// built, whether or not it succeeded. Cobra skips post-run hooks on error.
func execute(ctx context.Context, root *cobra.Command) error {
	executed, err := root.ExecuteContextC(ctx)
	if executed != nil && executed.Context() != nil {
		if appInstance, ok := executed.Context().Value(appKey).(App); ok && appInstance != nil {
			appInstance.Close()
		}
	}
	if err != nil {
		return fmt.Errorf("execute %s: %w", root.Name(), err)
	}
	return nil
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
