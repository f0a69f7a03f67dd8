package prediction

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nimeshabuddhika/parcel-recovery/pkg"
	"github.com/nimeshabuddhika/parcel-recovery/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type predictRequest struct {
	Carrier  string  `json:"carrier"`
	RuleID   string  `json:"ruleId"`
	Category string  `json:"category"`
	Amount   float64 `json:"amount"`
}

// HTTPPredictorConfig configures the remote scoring client.
type HTTPPredictorConfig struct {
	Logger   *zap.Logger
	Endpoint string
	// RatePerSec <= 0 disables client-side throttling.
	RatePerSec      int
	Burst           int
	MaxThrottleWait time.Duration
	ClientOptions   []utils.ClientOption
}

// HTTPPredictor calls an external scoring service. Errors are returned untouched so the caller
// can fall back to rule baselines.
type HTTPPredictor struct {
	logger          *zap.Logger
	endpoint        string
	client          *http.Client
	limiter         *rate.Limiter
	maxThrottleWait time.Duration
}

func NewHTTPPredictor(cfg HTTPPredictorConfig) *HTTPPredictor {
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = cfg.RatePerSec
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	wait := cfg.MaxThrottleWait
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	return &HTTPPredictor{
		logger:          cfg.Logger,
		endpoint:        cfg.Endpoint,
		client:          utils.NewHTTPClient(cfg.ClientOptions...),
		limiter:         limiter,
		maxThrottleWait: wait,
	}
}

func (p *HTTPPredictor) Predict(ctx context.Context, carrier, ruleID string, amount float64) (Prediction, error) {
	if p.limiter != nil {
		waitCtx, cancel := context.WithTimeout(ctx, p.maxThrottleWait)
		err := p.limiter.Wait(waitCtx)
		cancel()
		if err != nil {
			return Prediction{}, fmt.Errorf("%w: %v", pkg.ErrPredictorThrottled, err)
		}
	}

	body, err := json.Marshal(predictRequest{Carrier: carrier, RuleID: ruleID, Category: Category(ruleID), Amount: amount})
	if err != nil {
		return Prediction{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("prediction: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("prediction: unexpected status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	var out Prediction
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Prediction{}, fmt.Errorf("prediction: decode: %w", err)
	}
	if out.Probability < 0 || out.Probability > 1 {
		return Prediction{}, errors.New("prediction: probability outside [0,1]")
	}
	if out.PredictedDays < minPredictedDays {
		out.PredictedDays = minPredictedDays
	}
	p.logger.Debug("prediction received",
		zap.String(pkg.Carrier, carrier),
		zap.String(pkg.RuleID, ruleID),
		zap.Float64("probability", out.Probability))
	return out, nil
}
