package model

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

const loadKey = "model"

// Manager owns the model lifecycle. Loads are lazy and shared between
// concurrent callers; inference is bounded by a weighted semaphore.
type Manager struct {
	loader Loader
	logger *zap.Logger

	group singleflight.Group
	sem   *semaphore.Weighted

	mu       sync.RWMutex
	state    State
	model    Model
	observer func(State)
}

type ManagerOption func(*Manager)

func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithMaxConcurrency bounds how many predictions may run at once.
func WithMaxConcurrency(n int) ManagerOption {
	return func(m *Manager) {
		if n < 1 {
			n = 1
		}
		m.sem = semaphore.NewWeighted(int64(n))
	}
}

// WithStateObserver is called on every state transition.
func WithStateObserver(fn func(State)) ManagerOption {
	return func(m *Manager) {
		m.observer = fn
	}
}

func NewManager(loader Loader, opts ...ManagerOption) *Manager {
	m := &Manager{
		loader: loader,
		logger: zap.NewNop(),
		sem:    semaphore.NewWeighted(1),
		state:  Unloaded,
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Manager) Loaded() bool {
	return m.State() == Ready
}

// Ensure returns the loaded model, loading it first if needed. Callers
// arriving during a load wait for that same load.
func (m *Manager) Ensure(ctx context.Context) (Model, error) {
	if model := m.ready(); model != nil {
		return model, nil
	}

	// the load outlives any single caller that gives up waiting
	loadCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(loadKey, func() (any, error) {
		if model := m.ready(); model != nil {
			return model, nil
		}
		return m.load(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Model), nil
	}
}

// Preload loads the model in the foreground, logging instead of returning
// a failure. A later Ensure retries.
func (m *Manager) Preload(ctx context.Context) {
	if _, err := m.Ensure(ctx); err != nil {
		m.logger.Warn("Model preload failed, will load on first request", zap.Error(err))
	}
}

// Predict runs inference once a concurrency slot is free.
func (m *Manager) Predict(ctx context.Context, img image.Image, mask *image.Gray, seed int64) (Output, error) {
	model, err := m.Ensure(ctx)
	if err != nil {
		return nil, err
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.sem.Release(1)

	start := time.Now()
	out, err := model.Predict(ctx, img, mask, seed)
	if err != nil {
		return nil, err
	}

	m.logger.Info("Inference complete",
		zap.Int64("seed", seed),
		zap.Duration("duration", time.Since(start)),
	)

	return out, nil
}

func (m *Manager) ready() Model {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == Ready {
		return m.model
	}
	return nil
}

func (m *Manager) load(ctx context.Context) (Model, error) {
	m.setState(Loading, nil)
	m.logger.Info("Loading model")

	start := time.Now()
	model, err := m.loader.Load(ctx)
	if err == nil && model == nil {
		err = fmt.Errorf("loader returned no model")
	}
	if err != nil {
		m.setState(Unloaded, nil)
		m.logger.Error("Failed to load model", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	m.setState(Ready, model)
	m.logger.Info("Model loaded", zap.Duration("duration", time.Since(start)))

	return model, nil
}

func (m *Manager) setState(state State, model Model) {
	m.mu.Lock()
	m.state = state
	m.model = model
	observer := m.observer
	m.mu.Unlock()

	m.logger.Debug("Model state changed", zap.Stringer("state", state))
	if observer != nil {
		observer(state)
	}
}
