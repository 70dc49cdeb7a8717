package modules_test

import (
	"context"
	"testing"

	"github.com/aretw0/interplay/pkg/loader"
	"github.com/aretw0/interplay/pkg/modules"
	"github.com/aretw0/interplay/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadBuiltins(t *testing.T) {
	catalog := loader.NewCatalog()
	modules.Register(catalog)
	reg := registry.NewRegistry()
	l := loader.New(reg, catalog)

	report, err := modules.LoadBuiltins(context.Background(), l)
	require.NoError(t, err)
	assert.Empty(t, report.Skipped)
	assert.ElementsMatch(t, []string{"clock-input", "frame-counter", "http-input", "http-output", "log-output", "process-output"}, report.Loaded)
	assert.Equal(t, catalog.Names(), report.Loaded, "every adapter has a manifest")

	f, err := reg.Get("clock-input")
	require.NoError(t, err)
	assert.Equal(t, "builtin:clock-input/manifest.json", f.Source)

	cfg, err := f.Schema.Apply(map[string]any{"targetTime": "14:30"})
	require.NoError(t, err)
	assert.Equal(t, "1s", cfg["tickInterval"])
	assert.NotNil(t, f.New())
}

func TestBuiltinsReload(t *testing.T) {
	catalog := loader.NewCatalog()
	modules.Register(catalog)
	l := loader.New(registry.NewRegistry(), catalog)
	_, err := modules.LoadBuiltins(context.Background(), l)
	require.NoError(t, err)

	assert.NoError(t, l.Reload(context.Background(), "frame-counter"))
}
