package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/pvoutput-relay/internal/common"
	"github.com/i474232898/pvoutput-relay/internal/solar"
)

var (
	errMalformedEnvelope = errors.New("malformed response envelope")
	errNotAuthorised     = errors.New("not authorised")
)

// SolarmanConfig holds the plant/device identity and timeouts for the Solarman open API.
type SolarmanConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	PlantID      string
	DeviceID     string
	TimezoneID   string

	TokenTimeout time.Duration
	DataTimeout  time.Duration
	MaxRetries   int
}

// SolarmanProvider implements the solar.TelemetrySource interface for SolarmanPV.
type SolarmanProvider struct {
	name    string
	cfg     SolarmanConfig
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *zap.Logger

	uid   string
	token string
}

func NewSolarmanProvider(client, insecure *http.Client, cfg SolarmanConfig, logger *zap.Logger) *SolarmanProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://openapi.solarmanpv.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenTimeout <= 0 {
		cfg.TokenTimeout = 15 * time.Second
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = 40 * time.Second
	}
	logger = logger.With(zap.String("provider", "solarman"))

	return &SolarmanProvider{
		name: "solarman",
		cfg:  cfg,
		httpCfg: HTTPClientConfig{
			Client:   client,
			Insecure: insecure,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: 500 * time.Millisecond,
				MaxInterval:     5 * time.Second,
			},
			Logger: logger,
		},
		circuit: newBreaker("solarman"),
		logger:  logger,
	}
}

func (p *SolarmanProvider) Name() string {
	return p.name
}

// flexString accepts a JSON string or number; the API is not consistent about uid.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// envelope is the outer shape of every Solarman response.
type envelope struct {
	Code flexString                 `json:"code"`
	Msg  string                     `json:"msg"`
	Data map[string]json.RawMessage `json:"data"`
}

func (p *SolarmanProvider) authorise(ctx context.Context) error {
	if p.token != "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.TokenTimeout)
	defer cancel()

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("client_id", p.cfg.ClientID)
		values.Set("client_secret", p.cfg.ClientSecret)
		values.Set("grant_type", "client_credentials")

		u := fmt.Sprintf("%s/oauth2/accessToken?%s", p.cfg.BaseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	env, err := p.call(ctx, buildRequest)
	if err != nil {
		return err
	}

	var uid, token flexString
	if raw, ok := env.Data["uid"]; ok {
		_ = json.Unmarshal(raw, &uid)
	}
	if raw, ok := env.Data["access_token"]; ok {
		_ = json.Unmarshal(raw, &token)
	}
	if uid == "" || token == "" {
		return fmt.Errorf("%w: %s", errNotAuthorised, describe(env))
	}

	p.uid = string(uid)
	p.token = string(token)
	p.logger.Debug("authorised with solarman api")
	return nil
}

// FetchBatch returns all records reported for day in the given mode.
func (p *SolarmanProvider) FetchBatch(ctx context.Context, day time.Time, mode solar.Mode) (solar.Batch, error) {
	if err := p.authorise(ctx); err != nil {
		return solar.Batch{Mode: mode}, &solar.FetchError{Op: "token", Err: err}
	}

	date := day.Format("2006-01-02")
	path, field, values := p.query(mode, date)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.DataTimeout)
	defer cancel()

	buildRequest := func() (*http.Request, error) {
		u := fmt.Sprintf("%s%s?%s", p.cfg.BaseURL, path, values.Encode())
		req, err := http.NewRequest(http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("uid", p.uid)
		req.Header.Set("token", p.token)
		return req, nil
	}

	p.logger.Debug("requesting telemetry", zap.Stringer("mode", mode), zap.String("date", date))

	env, err := p.call(ctx, buildRequest)
	if err != nil {
		return solar.Batch{Mode: mode}, &solar.FetchError{Op: mode.String(), Err: err}
	}
	raw, ok := env.Data[field]
	if !ok {
		return solar.Batch{Mode: mode}, &solar.FetchError{
			Op:  mode.String(),
			Err: fmt.Errorf("%w: data.%s missing: %s", errMalformedEnvelope, field, describe(env)),
		}
	}

	batch, err := solar.DecodeBatch(mode, raw)
	if err != nil {
		if errors.Is(err, solar.ErrNotSequence) {
			return batch, fmt.Errorf("data.%s: %w", field, err)
		}
		return batch, &solar.FetchError{Op: mode.String(), Err: err}
	}
	return batch, nil
}

func (p *SolarmanProvider) query(mode solar.Mode, date string) (path, field string, values url.Values) {
	values = url.Values{}
	if p.cfg.TimezoneID != "" {
		values.Set("timezone_id", p.cfg.TimezoneID)
	}

	if mode == solar.ModePower {
		values.Set("plant_id", p.cfg.PlantID)
		values.Set("date", date)
		return "/plant/power", "powers", values
	}

	values.Set("device_id", p.cfg.DeviceID)
	values.Set("start_date", date)
	values.Set("end_date", date)
	values.Set("perpage", "500")
	return "/device/inverter/data", "datas", values
}

// call performs the request and decodes the response envelope. A missing
// data object is a malformed envelope.
func (p *SolarmanProvider) call(ctx context.Context, buildRequest func() (*http.Request, error)) (envelope, error) {
	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return envelope{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %v: %s", errMalformedEnvelope, err, common.Truncate(body, 200))
	}
	if env.Data == nil {
		return envelope{}, fmt.Errorf("%w: no data object: %s", errMalformedEnvelope, describe(env))
	}
	return env, nil
}

func describe(env envelope) string {
	if env.Msg == "" && env.Code == "" {
		return "no message"
	}
	return fmt.Sprintf("code=%s msg=%q", env.Code, env.Msg)
}
