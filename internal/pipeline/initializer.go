package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

type handle struct {
	p Pipeline
}

// Initializer lazily builds the shared Pipeline and hands the same instance
// to every caller. Construction runs at most once at a time; a failed build
// leaves nothing behind and the next Acquire starts over.
type Initializer struct {
	key         string
	loader      Loader
	loadTimeout time.Duration
	logger      *slog.Logger

	handle atomic.Pointer[handle]
	group  singleflight.Group
	builds atomic.Int64
}

// NewInitializer creates an initializer. key names the resource in logs and
// dedupes concurrent builds.
func NewInitializer(key string, loader Loader, loadTimeout time.Duration, logger *slog.Logger) *Initializer {
	return &Initializer{
		key:         key,
		loader:      loader,
		loadTimeout: loadTimeout,
		logger:      logger,
	}
}

// Acquire returns the shared pipeline, building it on first use.
// ctx bounds how long this caller waits, not the build itself.
func (i *Initializer) Acquire(ctx context.Context) (Pipeline, error) {
	if h := i.handle.Load(); h != nil {
		return h.p, nil
	}

	if i.loader == nil {
		return nil, ErrNotConfigured
	}

	ch := i.group.DoChan(i.key, func() (interface{}, error) {
		// another flight may have finished between the fast path and here
		if h := i.handle.Load(); h != nil {
			return h.p, nil
		}
		return i.build(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Pipeline), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (i *Initializer) build(ctx context.Context) (p Pipeline, err error) {
	loadCtx := context.WithoutCancel(ctx)
	if i.loadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(loadCtx, i.loadTimeout)
		defer cancel()
	}

	i.builds.Add(1)
	start := time.Now()
	i.logger.Info("Loading pipeline", slog.String("model", i.key))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline loader panicked: %v", r)
		}
		if err != nil {
			i.logger.Error("Pipeline load failed",
				slog.String("model", i.key),
				slog.String("error", err.Error()),
			)
		}
	}()

	p, err = i.loader(loadCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline %s: %w", i.key, err)
	}
	if p == nil {
		return nil, fmt.Errorf("failed to load pipeline %s: loader returned nil", i.key)
	}

	i.handle.Store(&handle{p: p})
	i.logger.Info("Pipeline ready",
		slog.String("model", i.key),
		slog.Duration("took", time.Since(start)),
	)
	return p, nil
}

// Ready reports whether the pipeline has been built
func (i *Initializer) Ready() bool {
	return i.handle.Load() != nil
}

// Builds returns how many times the loader has been invoked
func (i *Initializer) Builds() int64 {
	return i.builds.Load()
}

// Warmup builds the pipeline in the background. Errors are only logged; the
// first job will retry.
func (i *Initializer) Warmup(ctx context.Context) {
	go func() {
		if _, err := i.Acquire(ctx); err != nil {
			i.logger.Warn("Pipeline warmup failed", slog.String("error", err.Error()))
		}
	}()
}
