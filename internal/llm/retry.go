package llm

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"vita/internal/metrics"
)

type RetryOptions struct {
	MaxRetries        int
	InitialInterval   time.Duration
	MaxInterval       time.Duration
	RequestsPerSecond float64
	Logger            zerolog.Logger
}

// Retrying wraps a Gateway with client-side rate limiting and bounded exponential retries of
// transient failures. Policy rejections are returned on first sight.
type Retrying struct {
	next    Gateway
	opts    RetryOptions
	limiter *rate.Limiter
}

func WithRetry(next Gateway, opts RetryOptions) *Retrying {
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = 500 * time.Millisecond
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = 8 * time.Second
	}
	limit := rate.Inf
	burst := 1
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
		burst = int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
	}
	return &Retrying{next: next, opts: opts, limiter: rate.NewLimiter(limit, burst)}
}

func (r *Retrying) Complete(ctx context.Context, messages []Message, tools []ToolSpec) (Completion, error) {
	var out Completion
	err := r.do(ctx, "complete", func() error {
		c, err := r.next.Complete(ctx, messages, tools)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

// Embed retries the wrapped gateway's embeddings when it supports them.
func (r *Retrying) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	emb, ok := r.next.(Embedder)
	if !ok {
		return nil, errors.New("gateway does not support embeddings")
	}
	var out [][]float32
	err := r.do(ctx, "embed", func() error {
		v, err := emb.Embed(ctx, texts)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

func (r *Retrying) do(ctx context.Context, op string, call func() error) error {
	attempt := func() error {
		if err := r.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := call()
		if err == nil {
			metrics.LLMCalls.WithLabelValues("ok").Inc()
			return nil
		}
		metrics.LLMCalls.WithLabelValues(string(KindOf(err))).Inc()
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.opts.InitialInterval
	eb.MaxInterval = r.opts.MaxInterval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(r.opts.MaxRetries, 0))), ctx)
	return backoff.RetryNotify(attempt, b, func(err error, wait time.Duration) {
		metrics.LLMRetries.Inc()
		r.opts.Logger.Warn().Str("op", op).Str("kind", string(KindOf(err))).Dur("wait", wait).Msg("retrying model call")
	})
}
