package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"orchestrator/pkg/agent/llmerrors"
	"orchestrator/pkg/logx"
	"orchestrator/pkg/metrics"
)

// RetryPolicy encapsulates exponential-backoff retry configuration and the
// classifier deciding whether a given error is worth retrying.
type RetryPolicy struct {
	Config     llmerrors.RetryConfig
	Classifier func(error) bool
}

// DefaultRetryPolicy retries transient/rate-limit/empty-response errors up to
// a small bound with exponential backoff; auth and bad-prompt errors are
// surfaced immediately per spec.md §7 (transient-external vs permanent-external).
//
//nolint:gochecknoglobals // Sensible default shared across callers.
var DefaultRetryPolicy = RetryPolicy{
	Config: llmerrors.RetryConfig{
		MaxRetries:    3,
		InitialDelay:  1 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	Classifier: ShouldRetry,
}

// ShouldRetry applies a blocklist classifier: everything retries unless
// explicitly marked permanent.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var llmErr *llmerrors.Error
	if errors.As(err, &llmErr) {
		return llmErr.IsRetryable()
	}
	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") ||
		strings.Contains(errStr, "unauthorized") || strings.Contains(errStr, "invalid api key") {
		return false
	}
	if strings.Contains(errStr, "400") || strings.Contains(errStr, "404") {
		return false
	}
	return true
}

func (p *RetryPolicy) delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	d := time.Duration(float64(p.Config.InitialDelay) * math.Pow(p.Config.BackoffFactor, float64(attempt-2)))
	if d > p.Config.MaxDelay {
		d = p.Config.MaxDelay
	}
	if p.Config.Jitter && d > 0 {
		d += time.Duration(rand.Float64() * float64(d) * 0.1)
	}
	return d
}

// WithRetry wraps a Client with exponential-backoff retry. After the retry
// budget is exhausted on a retryable error, it surfaces a ServiceUnavailable
// classified error rather than the raw underlying error.
func WithRetry(next Client, policy RetryPolicy, logger *logx.Logger) Client {
	classifier := policy.Classifier
	if classifier == nil {
		classifier = ShouldRetry
	}
	maxAttempts := policy.Config.MaxRetries + 1
	return ClientFunc{
		Model: next.ModelName(),
		CompleteFunc: func(ctx context.Context, req Request) (Response, error) {
			var lastErr error
			for attempt := 1; attempt <= maxAttempts; attempt++ {
				if attempt > 1 {
					d := policy.delay(attempt)
					logger.Warn("llm retry %d/%d (backoff %v): %v", attempt, maxAttempts, d, lastErr)
					if d > 0 {
						select {
						case <-ctx.Done():
							return Response{}, fmt.Errorf("retry cancelled: %w", ctx.Err())
						case <-time.After(d):
						}
					}
				}
				start := time.Now()
				resp, err := next.Complete(ctx, req)
				metrics.LLMRequestDuration.WithLabelValues(next.ModelName()).Observe(time.Since(start).Seconds())
				if err == nil {
					metrics.LLMTokensTotal.WithLabelValues(next.ModelName(), "prompt").Add(float64(resp.Usage.PromptTokens))
					metrics.LLMTokensTotal.WithLabelValues(next.ModelName(), "completion").Add(float64(resp.Usage.CompletionTokens))
					return resp, nil
				}
				lastErr = err
				metrics.LLMRequestErrors.WithLabelValues(llmerrors.TypeOf(err).String()).Inc()
				if !classifier(err) || attempt >= maxAttempts {
					break
				}
			}
			if classifier(lastErr) {
				logger.Error("llm retries exhausted (%d attempts): %v", maxAttempts, lastErr)
				return Response{}, llmerrors.NewServiceUnavailableError(lastErr, maxAttempts)
			}
			return Response{}, lastErr
		},
	}
}
