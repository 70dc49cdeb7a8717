package middleware

import "github.com/aretw0/interplay/pkg/ports"

// Middleware allows wrapping a StateBackend to add behavior.
type Middleware func(ports.StateBackend) ports.StateBackend

// Chain wraps backend so the first middleware is the outermost one.
func Chain(backend ports.StateBackend, mws ...Middleware) ports.StateBackend {
	for i := len(mws) - 1; i >= 0; i-- {
		backend = mws[i](backend)
	}
	return backend
}
