package transform

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Retrying wraps a Transformer and retries transient failures (no response,
// or a 5xx) with exponential backoff. Other failures return immediately.
type Retrying struct {
	Next        Transformer
	MaxRetries  uint64
	BaseBackoff time.Duration
}

func (r Retrying) Transform(ctx context.Context, req Request) (string, error) {
	if r.Next == nil {
		return "", &TransformFailure{Op: req.Op, SourceLang: req.SourceLang, TargetLang: req.TargetLang, Err: errors.New("transformer is nil")}
	}
	if r.MaxRetries == 0 {
		return r.Next.Transform(ctx, req)
	}
	base := r.BaseBackoff
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	b := retry.WithMaxRetries(r.MaxRetries, retry.WithJitterPercent(10, retry.NewExponential(base)))

	var (
		out     string
		lastErr error
	)
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		text, err := r.Next.Transform(ctx, req)
		if err == nil {
			out = text
			return nil
		}
		lastErr = err
		var tf *TransformFailure
		if errors.As(err, &tf) && tf.Transient() && ctx.Err() == nil {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return out, nil
	}
	// retry.Do reports ctx.Err() when canceled between attempts; callers
	// classify on the transform failure.
	if lastErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return "", lastErr
	}
	return "", err
}
