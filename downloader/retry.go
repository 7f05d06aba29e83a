package downloader

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

const (
	DefaultRetryInitialInterval = 500 * time.Millisecond
	DefaultRetryMaxElapsed      = 10 * time.Second
)

// Wraps a Downloader, retrying failed downloads with exponential
// backoff. Non-temporary HTTP errors (e.g. 403 on a bad API key)
// fail immediately.
type Retrying struct {
	Upstream        Downloader
	InitialInterval time.Duration
	MaxElapsedTime  time.Duration
	Logger          *zap.Logger
}

func NewRetrying(upstream Downloader, logger *zap.Logger) *Retrying {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrying{
		Upstream:        upstream,
		InitialInterval: DefaultRetryInitialInterval,
		MaxElapsedTime:  DefaultRetryMaxElapsed,
		Logger:          logger,
	}
}

func (r *Retrying) Get(
	ctx context.Context,
	url string,
	headers map[string]string,
	options GetOptions,
) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.InitialInterval
	b.MaxElapsedTime = r.MaxElapsedTime

	return backoff.RetryNotifyWithData(
		func() ([]byte, error) {
			body, err := r.Upstream.Get(ctx, url, headers, options)
			if err == nil {
				return body, nil
			}

			var statusErr *StatusError
			if errors.As(err, &statusErr) && !statusErr.Temporary() {
				return nil, backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		},
		backoff.WithContext(b, ctx),
		func(err error, d time.Duration) {
			r.Logger.Warn("feed download failed, retrying",
				zap.String("url", url),
				zap.Duration("backoff", d),
				zap.Error(err),
			)
		},
	)
}
