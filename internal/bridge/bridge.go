package bridge

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is a long-lived loop that runs until ctx is cancelled.
type Task func(ctx context.Context) error

// Bridge runs the sync engine and the command loop under one shared
// cancellable context. Cancelling stops both.
type Bridge struct {
	engine   *Engine
	commands Task
	health   *HealthReporter
	logger   Logger

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	group    *errgroup.Group
	stopOnce sync.Once
}

// Options configures a Bridge.
type Options struct {
	// Engine is required.
	Engine *Engine

	// Commands is the command loop, typically command.Router.Serve bound to
	// a source. Optional.
	Commands Task

	// Health is optional.
	Health *HealthReporter

	Logger Logger
}

// New creates a Bridge.
func New(opts Options) (*Bridge, error) {
	if opts.Engine == nil {
		return nil, ErrMissingDependency
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	return &Bridge{
		engine:   opts.Engine,
		commands: opts.Commands,
		health:   opts.Health,
		logger:   logger,
	}, nil
}

// Start launches both loops and returns immediately.
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.started {
		return ErrAlreadyStarted
	}
	b.started = true

	ctx, b.cancel = context.WithCancel(ctx)
	b.group, ctx = errgroup.WithContext(ctx)

	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logger.Warn("failed to publish starting health", "error", err)
		}
		b.health.Start(ctx)
	}

	b.group.Go(func() error {
		return b.engine.Run(ctx)
	})
	if b.commands != nil {
		b.group.Go(func() error {
			return b.commands(ctx)
		})
	}

	b.logger.Info("bridge started")
	return nil
}

// Wait blocks until both loops have returned.
func (b *Bridge) Wait() error {
	b.mu.Lock()
	group := b.group
	b.mu.Unlock()

	if group == nil {
		return nil
	}
	return group.Wait()
}

// Stop cancels both loops and waits for them. Safe to call multiple times.
func (b *Bridge) Stop() error {
	var err error
	b.stopOnce.Do(func() {
		b.mu.Lock()
		cancel := b.cancel
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		err = b.Wait()
		if b.health != nil {
			b.health.Stop()
		}
		b.logger.Info("bridge stopped")
	})
	return err
}

// Engine returns the sync engine.
func (b *Bridge) Engine() *Engine {
	return b.engine
}
