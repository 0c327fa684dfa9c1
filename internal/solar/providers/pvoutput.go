package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/pvoutput-relay/internal/solar"
)

// PVOutputConfig identifies the PVOutput system that receives statuses.
type PVOutputConfig struct {
	BaseURL    string
	APIKey     string
	SystemID   string
	Timeout    time.Duration
	MaxRetries int
}

// PVOutputProvider implements the solar.StatusUploader interface using the
// PVOutput Add Status service.
type PVOutputProvider struct {
	name    string
	cfg     PVOutputConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewPVOutputProvider(client *http.Client, cfg PVOutputConfig, logger *zap.Logger) *PVOutputProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://pvoutput.org/service/r2"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	logger = logger.With(zap.String("provider", "pvoutput"))

	return &PVOutputProvider{
		name: "pvoutput",
		cfg:  cfg,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 1 * time.Second,
				MaxInterval:     10 * time.Second,
			},
			Logger: logger,
		},
		circuit: newBreaker("pvoutput"),
		logger:  logger,
	}
}

func (p *PVOutputProvider) Name() string {
	return p.name
}

// UploadStatus posts a single live status (addstatus.jsp).
func (p *PVOutputProvider) UploadStatus(ctx context.Context, status solar.StatusPayload) error {
	if p.cfg.APIKey == "" || p.cfg.SystemID == "" {
		return &solar.UploadError{Err: fmt.Errorf("pvoutput api key or system id is not configured")}
	}
	if err := validate.Struct(status); err != nil {
		return &solar.UploadError{Err: fmt.Errorf("invalid status: %w", err)}
	}

	form := statusForm(status)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	buildRequest := func() (*http.Request, error) {
		req, err := http.NewRequest(http.MethodPost, p.cfg.BaseURL+"/addstatus.jsp", strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("X-Pvoutput-Apikey", p.cfg.APIKey)
		req.Header.Set("X-Pvoutput-SystemId", p.cfg.SystemID)
		return req, nil
	}

	p.logger.Debug("adding status", zap.String("form", form.Encode()))

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return &solar.UploadError{Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	p.logger.Debug("pvoutput response", zap.Int("status", resp.StatusCode), zap.String("body", strings.TrimSpace(string(body))))
	return nil
}

// statusForm encodes the payload as PVOutput parameters: d date, t time,
// v2 power generation (W), v5 temperature (°C), v6 voltage (V).
func statusForm(s solar.StatusPayload) url.Values {
	form := url.Values{}
	form.Set("d", s.Date)
	form.Set("t", s.Time)
	form.Set("v2", strconv.FormatFloat(s.Power, 'f', 0, 64))
	if s.Temperature != nil {
		form.Set("v5", strconv.FormatFloat(*s.Temperature, 'f', 1, 64))
	}
	if s.Voltage != nil {
		form.Set("v6", strconv.FormatFloat(*s.Voltage, 'f', 1, 64))
	}
	return form
}
