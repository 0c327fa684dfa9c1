package providers

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/i474232898/pvoutput-relay/internal/common"
)

var validate = validator.New()

// BackoffConfig controls exponential backoff behaviour.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP clients and resilience settings.
type HTTPClientConfig struct {
	Client *http.Client
	// Insecure is used for a single retry after a certificate verification
	// failure. Nil disables the fallback.
	Insecure *http.Client
	Backoff  BackoffConfig
	Logger   *zap.Logger
}

var (
	errRateLimited   = errors.New("rate limited")
	errServerError   = errors.New("server error")
	errUnexpected    = errors.New("unexpected status code")
	errCircuitOpen   = errors.New("circuit breaker open")
	errNoHTTPClient  = errors.New("http client not configured")
	errInvalidConfig = errors.New("invalid backoff configuration")
)

// statusError keeps the response status and a snippet of the body.
type statusError struct {
	kind error
	code int
	body string
}

func (e *statusError) Error() string {
	if e.body == "" {
		return fmt.Sprintf("%v: %d", e.kind, e.code)
	}
	return fmt.Sprintf("%v: %d: %s", e.kind, e.code, e.body)
}

func (e *statusError) Unwrap() error { return e.kind }

// NewHTTPClients returns the verifying client and, when fallback is set, a
// client that skips certificate verification.
func NewHTTPClients(timeout time.Duration, fallback bool) (*http.Client, *http.Client) {
	client := &http.Client{Timeout: timeout}
	if !fallback {
		return client, nil
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // explicit opt-in fallback
	return client, &http.Client{Timeout: timeout, Transport: transport}
}

func newBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})
}

// doRequestWithResilience executes the HTTP request with retries, exponential backoff,
// a circuit breaker and an optional unverified-TLS fallback.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}
	if cfg.Backoff.MaxRetries < 0 || cfg.Backoff.InitialInterval <= 0 {
		return nil, errInvalidConfig
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := send(ctx, cfg.Client, buildRequest)
			if execErr != nil && cfg.Insecure != nil && isCertificateError(execErr) {
				logger.Warn("certificate verification failed, retrying without verification", zap.Error(execErr))
				resp, execErr = send(ctx, cfg.Insecure, buildRequest)
			}
			if execErr != nil {
				return nil, execErr
			}

			// Handle rate limiting and server errors explicitly.
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				return nil, drainStatus(resp, errRateLimited)
			case resp.StatusCode >= 500:
				return nil, drainStatus(resp, errServerError)
			case resp.StatusCode < 200 || resp.StatusCode >= 300:
				return nil, drainStatus(resp, errUnexpected)
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		// If circuit is open, propagate immediately.
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}
		// Client errors will not improve on retry.
		if errors.Is(err, errUnexpected) {
			return nil, err
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if delay > cfg.Backoff.MaxInterval && cfg.Backoff.MaxInterval > 0 {
			delay = cfg.Backoff.MaxInterval
		}
		logger.Debug("request failed, backing off",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}

func send(ctx context.Context, client *http.Client, buildRequest func() (*http.Request, error)) (*http.Response, error) {
	req, err := buildRequest()
	if err != nil {
		return nil, err
	}
	return client.Do(req.WithContext(ctx))
}

func drainStatus(resp *http.Response, kind error) error {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &statusError{
		kind: kind,
		code: resp.StatusCode,
		body: common.Truncate([]byte(strings.TrimSpace(string(body))), 200),
	}
}

func isCertificateError(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		invalid          x509.CertificateInvalidError
		verification     *tls.CertificateVerificationError
	)
	switch {
	case errors.As(err, &unknownAuthority),
		errors.As(err, &hostname),
		errors.As(err, &invalid),
		errors.As(err, &verification):
		return true
	}
	return common.HasAny(err.Error(), "x509:", "certificate signed by unknown authority", "tls: failed to verify")
}
