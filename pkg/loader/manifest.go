package loader

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/aretw0/interplay/pkg/schema"
	"golang.org/x/mod/semver"
	"gopkg.in/yaml.v3"
)

// ManifestNames are the file names recognized inside a plugin directory, in
// lookup order.
var ManifestNames = []string{"manifest.json", "manifest.yaml", "manifest.yml"}

// IsManifestFile reports whether name is one of ManifestNames.
func IsManifestFile(name string) bool {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	for _, n := range ManifestNames {
		if base == n {
			return true
		}
	}
	return false
}

// ParseManifest decodes a manifest, picking the format from the file extension.
func ParseManifest(name string, data []byte) (domain.Manifest, error) {
	var m domain.Manifest
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &m); err != nil {
			return m, fmt.Errorf("parse %s: %w", name, err)
		}
	case ".json":
		if err := domain.DecodeJSON(data, &m); err != nil {
			return m, fmt.Errorf("parse %s: %w", name, err)
		}
	default:
		return m, fmt.Errorf("unsupported manifest format: %s", name)
	}
	return m, nil
}

// ValidVersion reports whether v is a semantic version. The leading "v" is optional.
func ValidVersion(v string) bool {
	if v == "" {
		return false
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.IsValid(v)
}

// Validate checks a manifest and compiles its config schema. Every problem is
// collected into the returned *domain.ValidationError.
func Validate(m domain.Manifest) (*schema.Schema, error) {
	var errs []error

	if m.TypeName == "" {
		errs = append(errs, errors.New("typeName is required"))
	}
	switch {
	case m.Version == "":
		errs = append(errs, errors.New("version is required"))
	case !ValidVersion(m.Version):
		errs = append(errs, fmt.Errorf("version %q is not a semantic version", m.Version))
	}
	if m.ConfigSchema.IsZero() {
		errs = append(errs, errors.New("configSchema is required"))
	}
	if len(m.Events) == 0 {
		errs = append(errs, errors.New("events must declare at least one event"))
	}

	seen := make(map[string]bool, len(m.Events))
	for i, ev := range m.Events {
		if ev.Name == "" {
			errs = append(errs, fmt.Errorf("events[%d]: name is required", i))
		}
		switch ev.Direction {
		case domain.DirectionInput, domain.DirectionOutput:
		default:
			errs = append(errs, fmt.Errorf("events[%d]: direction %q must be input or output", i, ev.Direction))
		}
		switch ev.Kind {
		case "", domain.KindTrigger, domain.KindStream:
		default:
			errs = append(errs, fmt.Errorf("events[%d]: kind %q must be trigger or stream", i, ev.Kind))
		}
		key := string(ev.Direction) + "/" + ev.Name
		if seen[key] {
			errs = append(errs, fmt.Errorf("events[%d]: duplicate %s event %q", i, ev.Direction, ev.Name))
		}
		seen[key] = true
	}

	compiled, err := schema.Compile(m.ConfigSchema)
	if err != nil {
		if fields := schema.ValidationErrors(err); fields != nil {
			errs = append(errs, fields...)
		} else {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return nil, &domain.ValidationError{Subject: "manifest", ID: m.TypeName, Fields: errs}
	}
	return compiled, nil
}
