package runner

import (
	"chatkit/core"
	"context"
	"fmt"
	"sync"
)

// Runner owns the lifecycle of a chat's remote collaborators. Services are
// initialized in order and cleaned up in reverse.
type Runner struct {
	Services []core.IService
	logger   *core.Logger

	mu      sync.Mutex
	started []core.IService
}

func NewRunner(services []core.IService, logger *core.Logger) *Runner {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Runner{
		Services: services,
		logger:   logger.With(map[string]interface{}{"component": "runner"}),
	}
}

// Start initializes every service. If one fails, those already started are
// cleaned up and the error is returned.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, service := range r.Services {
		if service == nil {
			continue
		}
		if err := service.Initialize(ctx); err != nil {
			r.logger.Error("service failed to initialize", "index", i, "service", fmt.Sprintf("%T", service), "error", err)
			r.cleanupLocked()
			return fmt.Errorf("runner: initialize %T: %w", service, err)
		}
		r.started = append(r.started, service)
	}
	r.logger.Info("services started", "count", len(r.started))
	return nil
}

// Stop cleans up started services, newest first, and returns the first
// error.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleanupLocked()
}

func (r *Runner) cleanupLocked() error {
	var errs []error
	for i := len(r.started) - 1; i >= 0; i-- {
		if err := r.started[i].Cleanup(); err != nil {
			r.logger.Warn("service cleanup failed", "service", fmt.Sprintf("%T", r.started[i]), "error", err)
			errs = append(errs, err)
		}
	}
	r.started = nil

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// Reset resets every started service.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for _, service := range r.started {
		if err := service.Reset(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
