package ctlog

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/andres10976/certharvest/internal/metrics"
)

const maxRetryAfter = 5 * time.Minute

// StatusError is a non-2xx provider response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.Code)
}

// fetcher performs rate limited GET requests and retries every failure with
// exponential backoff until maxRetries is exhausted.
type fetcher struct {
	provider   string
	client     *http.Client
	limiter    *rate.Limiter
	maxRetries int
	newBackOff func() backoff.BackOff
	header     http.Header
	metrics    *metrics.Metrics
	log        *zap.Logger
}

func newExponentialBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 2 * time.Minute
	b.RandomizationFactor = 0.5
	b.MaxElapsedTime = 0
	return b
}

// get fetches rawURL. When decode is non-nil it runs on every successful
// body, and a decode error is retried like a failed request.
func (f *fetcher) get(ctx context.Context, rawURL string, decode func([]byte) error) ([]byte, error) {
	var body []byte
	op := func() error {
		b, err := f.attempt(ctx, rawURL)
		if err != nil {
			return err
		}
		if decode != nil {
			if err := decode(b); err != nil {
				return fmt.Errorf("decode body: %w", err)
			}
		}
		body = b
		return nil
	}
	notify := func(err error, next time.Duration) {
		f.metrics.ProviderRetries.WithLabelValues(f.provider).Inc()
		f.log.Warn("retrying provider request",
			zap.String("url", rawURL),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(f.newBackOff(), uint64(f.maxRetries)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: GET %s: %w", ErrTransientFetch, rawURL, err)
	}
	return body, nil
}

func (f *fetcher) attempt(ctx context.Context, rawURL string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header = f.header.Clone()

	resp, err := f.client.Do(req)
	if err != nil {
		f.metrics.ProviderRequests.WithLabelValues(f.provider, "error").Inc()
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	f.metrics.ProviderRequests.WithLabelValues(f.provider, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode == http.StatusTooManyRequests {
			if err := sleep(ctx, retryAfter(resp.Header.Get("Retry-After"), time.Now())); err != nil {
				return nil, backoff.Permanent(err)
			}
		}
		return nil, &StatusError{Code: resp.StatusCode}
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return b, nil
}

// retryAfter parses a Retry-After header given in seconds or as an HTTP date.
func retryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if t, err := http.ParseTime(v); err == nil {
		d = t.Sub(now)
	}
	return min(max(d, 0), maxRetryAfter)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
