package util

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownResource is one component the coordinator tears down. Lower
// priorities run first, so listeners stop before the tables behind them.
type ShutdownResource struct {
	Name     string
	Priority int
	Shutdown func(context.Context) error
}

// GracefulShutdown collects resources during startup and tears them down
// in priority order when the process receives a stop signal.
type GracefulShutdown struct {
	mu        sync.Mutex
	resources []ShutdownResource
	logger    *logrus.Logger
	timeout   time.Duration
}

func NewGracefulShutdown(logger *logrus.Logger, timeout time.Duration) *GracefulShutdown {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{logger: logger, timeout: timeout}
}

// Register adds a resource for teardown.
func (gs *GracefulShutdown) Register(resource ShutdownResource) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.resources = append(gs.resources, resource)
	sort.SliceStable(gs.resources, func(i, j int) bool {
		return gs.resources[i].Priority < gs.resources[j].Priority
	})
}

// RegisterCloser wraps an io.Closer as a shutdown resource.
func (gs *GracefulShutdown) RegisterCloser(name string, closer io.Closer, priority int) {
	gs.Register(ShutdownResource{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error { return closer.Close() },
	})
}

// Shutdown tears everything down sequentially in priority order. Errors
// are logged per resource and collected; the first failure does not stop
// later resources from being released.
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	resources := make([]ShutdownResource, len(gs.resources))
	copy(resources, gs.resources)
	gs.mu.Unlock()

	gs.logger.WithField("resources", len(resources)).Info("Starting graceful shutdown")

	shutdownCtx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	var errs []error
	for _, res := range resources {
		gs.logger.WithField("resource", res.Name).Debug("Shutting down resource")
		if err := res.Shutdown(shutdownCtx); err != nil {
			gs.logger.WithError(err).WithField("resource", res.Name).Error("Resource shutdown failed")
			errs = append(errs, fmt.Errorf("%s: %w", res.Name, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("shutdown finished with %d errors, first: %w", len(errs), errs[0])
	}
	gs.logger.Info("Graceful shutdown complete")
	return nil
}
