package middleware

import (
	"context"
	"errors"
	"regexp"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/ports"
)

// Mask replaces every redacted value.
const Mask = "***"

// DefaultSecretPatterns match the config keys treated as secrets by default.
var DefaultSecretPatterns = []string{`(?i)password`, `(?i)secret`, `(?i)token`, `(?i)authorization`, `(?i)api[_-]?key`}

// ErrReadOnly is returned by the write operations of a redacting backend.
var ErrReadOnly = errors.New("redacted state is read-only")

type redactMiddleware struct {
	next     ports.StateBackend
	patterns []*regexp.Regexp
}

// NewRedactMiddleware masks the values of instance config and settings keys
// matching any pattern on Load. The result is meant for display: writes are
// refused so a masked document never replaces the real one.
func NewRedactMiddleware(patternStrings []string) (Middleware, error) {
	patterns := make([]*regexp.Regexp, len(patternStrings))
	for i, p := range patternStrings {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		patterns[i] = re
	}
	return func(next ports.StateBackend) ports.StateBackend {
		return &redactMiddleware{next: next, patterns: patterns}
	}, nil
}

func (m *redactMiddleware) Load(ctx context.Context) (*domain.AppState, error) {
	state, err := m.next.Load(ctx)
	if err != nil {
		return nil, err
	}
	// Backends may hand out shared maps.
	state = state.Clone()
	for id, inst := range state.Instances {
		maskMap(inst.Config, m.patterns)
		maskMap(inst.Runtime, m.patterns)
		state.Instances[id] = inst
	}
	maskMap(state.Settings, m.patterns)
	return state, nil
}

func (m *redactMiddleware) Save(ctx context.Context, state *domain.AppState) error {
	return ErrReadOnly
}

func (m *redactMiddleware) Quarantine(ctx context.Context) (string, error) {
	return "", ErrReadOnly
}

func (m *redactMiddleware) Delete(ctx context.Context) error {
	return ErrReadOnly
}

// Helpers

func maskMap(m map[string]any, patterns []*regexp.Regexp) {
	for k, v := range m {
		masked := false
		for _, p := range patterns {
			if p.MatchString(k) {
				m[k] = Mask
				masked = true
				break
			}
		}
		if masked {
			continue
		}

		switch sub := v.(type) {
		case map[string]any:
			maskMap(sub, patterns)
		case domain.ModuleConfig:
			maskMap(sub, patterns)
		}
	}
}
