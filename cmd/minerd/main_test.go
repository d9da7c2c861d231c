package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-miner/internal/forecast"
	"github.com/JakeFAU/disclosure-miner/internal/pipeline"
)

type fakeApp struct {
	closed    int
	served    bool
	questions []string
	caps      []pipeline.Caps
	predErr   error
}

func (f *fakeApp) Close() { f.closed++ }

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) Ask(_ context.Context, question string, caps pipeline.Caps) pipeline.Result {
	f.questions = append(f.questions, question)
	f.caps = append(f.caps, caps)
	return pipeline.Result{RunID: "run-1", Mode: pipeline.ModeAnswer, Question: question}
}

func (f *fakeApp) DefaultCaps() pipeline.Caps { return pipeline.Caps{MaxHTML: 20, MaxPDF: 12} }

func (f *fakeApp) Predict(_ context.Context, symbol string) (forecast.Prediction, error) {
	if f.predErr != nil {
		return forecast.Fallback(symbol), f.predErr
	}
	return forecast.Prediction{Symbol: "NABIL", Direction: "UP", Confidence: 70, Probability: 0.7, SignalStrength: "Strong"}, nil
}

// withFakeApp swaps the application factory for the duration of the test.
func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	original := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = original })
	return &gotPath
}

func executeArgs(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := execute(context.Background(), root)
	return out.String(), err
}

func TestRunCommandUsesDefaultCaps(t *testing.T) {
	app := &fakeApp{}
	cfgPath := withFakeApp(t, app)

	out, err := executeArgs(t, "--config", "miner.yaml", "run", "Nabil", "net", "profit")
	require.NoError(t, err)

	require.Equal(t, "miner.yaml", *cfgPath)
	require.Equal(t, []string{"Nabil net profit"}, app.questions)
	require.Equal(t, []pipeline.Caps{{MaxHTML: 20, MaxPDF: 12}}, app.caps)
	require.Equal(t, 1, app.closed)

	var res pipeline.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Equal(t, "run-1", res.RunID)
}

func TestRunCommandFlagOverrides(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := executeArgs(t, "run", "--max-html", "5", "--max-pdf", "0", "NTC revenue")
	require.NoError(t, err)
	require.Equal(t, []pipeline.Caps{{MaxHTML: 5, MaxPDF: 0}}, app.caps)

	_, err = executeArgs(t, "run", "--max-pdf", "-1", "NTC revenue")
	require.ErrorContains(t, err, "non-negative")
	require.Equal(t, 2, app.closed)
}

func TestRunCommandRequiresQuestion(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := executeArgs(t, "run")
	require.Error(t, err)
	require.Empty(t, app.questions)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	_, err := executeArgs(t, "serve")
	require.NoError(t, err)
	require.True(t, app.served)
	require.Equal(t, 1, app.closed)
}

func TestForecastCommand(t *testing.T) {
	app := &fakeApp{}
	withFakeApp(t, app)

	out, err := executeArgs(t, "forecast", "nabil")
	require.NoError(t, err)
	var pred forecast.Prediction
	require.NoError(t, json.Unmarshal([]byte(out), &pred))
	require.Equal(t, "UP", pred.Direction)
}

func TestForecastCommandPrintsFallbackOnFailure(t *testing.T) {
	app := &fakeApp{predErr: errors.New("connection refused")}
	withFakeApp(t, app)

	out, err := executeArgs(t, "forecast", "nabil")
	require.ErrorContains(t, err, "predictor unavailable")
	require.Equal(t, 1, app.closed)

	var pred forecast.Prediction
	require.NoError(t, json.Unmarshal([]byte(out), &pred))
	require.Equal(t, forecast.DirectionHold, pred.Direction)
	require.Equal(t, "NABIL", pred.Symbol)
}

func TestAppInitFailure(t *testing.T) {
	original := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("bad config") }
	t.Cleanup(func() { newApp = original })

	_, err := executeArgs(t, "forecast", "nabil")
	require.ErrorContains(t, err, "failed to initialize application services")
}
