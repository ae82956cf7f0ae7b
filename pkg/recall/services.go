package recall

import (
	"errors"
	"fmt"
)

// ServiceLogger is the service registry key for the shared *slog.Logger.
const ServiceLogger = "logger"

// ServiceRegistry provides runtime dependency injection to modules and drivers.
type ServiceRegistry interface {
	// Register binds a singleton service value to a stable name.
	Register(name string, service any) error
	// Resolve returns a registered service by name.
	Resolve(name string) (any, error)
}

// ResolveAs resolves a service and casts it to the requested type.
func ResolveAs[T any](registry ServiceRegistry, name string) (T, error) {
	var zero T

	service, err := registry.Resolve(name)
	if err != nil {
		return zero, fmt.Errorf("resolve service %s: %w", name, err)
	}

	typed, ok := service.(T)
	if !ok {
		return zero, fmt.Errorf("resolve service %s: type assertion failed", name)
	}

	return typed, nil
}

// ResolveOptional resolves a service that a module can run without.
//
// A missing service yields the zero value and found=false without error.
func ResolveOptional[T any](registry ServiceRegistry, name string) (value T, found bool, err error) {
	value, err = ResolveAs[T](registry, name)
	switch {
	case err == nil:
		return value, true, nil
	case errors.Is(err, ErrServiceNotFound):
		var zero T
		return zero, false, nil
	default:
		var zero T
		return zero, false, err
	}
}
