// Package forecast is a client for the external direction predictor. The
// model behind it is opaque; only its predict(symbol) contract is used.
package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kaptinlin/jsonrepair"
	"go.uber.org/zap"
)

// Directions and signal strengths reported by the predictor.
const (
	DirectionHold = "HOLD"
	SignalWeak    = "Weak"
)

const maxResponseBytes = 1 << 20

// Prediction is the predictor's answer for one symbol.
type Prediction struct {
	Symbol         string  `json:"symbol,omitempty"`
	Direction      string  `json:"direction"`
	Confidence     float64 `json:"confidence"`
	Probability    float64 `json:"probability"`
	SignalStrength string  `json:"signal_strength"`
}

// Fallback is the neutral prediction served when the predictor fails.
func Fallback(symbol string) Prediction {
	return Prediction{
		Symbol:         strings.ToUpper(symbol),
		Direction:      DirectionHold,
		Confidence:     50,
		Probability:    0.5,
		SignalStrength: SignalWeak,
	}
}

// Predictor answers predict(symbol).
type Predictor interface {
	Predict(ctx context.Context, symbol string) (Prediction, error)
}

// StatusError reports a non-2xx predictor response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("predictor returned %d: %s", e.StatusCode, e.Body)
}

// Config locates the predictor.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Client calls GET <base>/forecast/<SYMBOL>.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *zap.Logger
}

// NewClient validates the base URL and builds a Client.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid forecast base url %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:   base,
		http:   &http.Client{Timeout: timeout},
		logger: logger.Named("forecast"),
	}, nil
}

// Predict fetches the prediction for symbol. Responses that are not strict
// JSON (single quotes, trailing commas, Python literals) are repaired before
// decoding.
func (c *Client) Predict(ctx context.Context, symbol string) (Prediction, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return Prediction{}, fmt.Errorf("symbol is required")
	}
	endpoint := c.base.JoinPath("forecast", symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Prediction{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("call predictor: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Prediction{}, fmt.Errorf("read predictor response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Prediction{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	pred, err := decode(body)
	if err != nil {
		return Prediction{}, err
	}
	if pred.Symbol == "" {
		pred.Symbol = symbol
	}
	if pred.Direction == "" {
		return Prediction{}, fmt.Errorf("predictor response has no direction")
	}
	return pred, nil
}

func decode(body []byte) (Prediction, error) {
	var pred Prediction
	if err := json.Unmarshal(body, &pred); err == nil {
		return pred, nil
	}
	repaired, err := jsonrepair.JSONRepair(string(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("repair predictor response: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), &pred); err != nil {
		return Prediction{}, fmt.Errorf("decode predictor response: %w", err)
	}
	return pred, nil
}

// PredictOrFallback returns the prediction, or the neutral fallback and the
// error when the predictor fails.
func PredictOrFallback(ctx context.Context, p Predictor, symbol string, logger *zap.Logger) (Prediction, error) {
	pred, err := p.Predict(ctx, symbol)
	if err != nil {
		if logger != nil {
			logger.Warn("predictor failed, serving fallback", zap.String("symbol", symbol), zap.Error(err))
		}
		return Fallback(symbol), err
	}
	return pred, nil
}
