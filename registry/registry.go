// Package registry maps service names to their implementations.
//
// A Registry is populated at startup, before the server starts serving, and is
// read on every request afterwards. Each Service carries an explicit method
// table built at registration time, so resolving a call is two map lookups.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrServiceExists is returned when a service name is registered twice and
// overwriting was not enabled.
var ErrServiceExists = errors.New("service already registered")

// Registry is the server-side table of services.
type Registry struct {
	mu             sync.RWMutex
	services       map[string]*Service
	allowOverwrite bool
	logger         *zap.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// AllowOverwrite makes a repeated Register replace the earlier service
// (with a warning) instead of failing.
func AllowOverwrite() Option {
	return func(r *Registry) { r.allowOverwrite = true }
}

// WithLogger sets the logger used for registration diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

func New(opts ...Option) *Registry {
	r := &Registry{
		services: make(map[string]*Service),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds svc under its name.
func (r *Registry) Register(svc *Service) error {
	if svc == nil || svc.Name() == "" {
		return errors.New("registry: service must have a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.services[svc.Name()]; exists {
		if !r.allowOverwrite {
			return fmt.Errorf("%w: %s", ErrServiceExists, svc.Name())
		}
		r.logger.Warn("replacing registered service", zap.String("service", svc.Name()))
	}
	r.services[svc.Name()] = svc
	r.logger.Debug("registered service",
		zap.String("service", svc.Name()),
		zap.Strings("methods", svc.Methods()))
	return nil
}

// Resolve returns the service registered under name.
func (r *Registry) Resolve(name string) (*Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}

// Names returns the registered service names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.services))
	for name := range r.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
