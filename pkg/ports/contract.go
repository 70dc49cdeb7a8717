package ports

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aretw0/interplay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBackendContract runs a suite of tests to verify that a StateBackend implementation
// adheres to the defined interface contract. newBackend must return a backend over
// fresh, empty storage on every call.
func RunBackendContract(t *testing.T, newBackend func(t *testing.T) StateBackend) {
	ctx := context.Background()

	t.Run("Load Empty", func(t *testing.T) {
		b := newBackend(t)
		_, err := b.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
	})

	t.Run("Save and Load", func(t *testing.T) {
		b := newBackend(t)
		state := sampleState()

		require.NoError(t, b.Save(ctx, state), "Save should not return error")

		loaded, err := b.Load(ctx)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, domain.StateVersion, loaded.Version)

		require.Len(t, loaded.Instances, 2)
		clock := loaded.Instances["inst-clock"]
		assert.Equal(t, "clock-input", clock.TypeName)
		assert.Equal(t, "14:30", clock.Config["targetTime"])
		assert.Equal(t, "ia", clock.InteractionID)
		assert.True(t, clock.CreatedAt.Equal(state.Instances["inst-clock"].CreatedAt))

		// numbers survive as json.Number so configs round-trip without float drift
		assert.Equal(t, json.Number("5"), loaded.Instances["inst-log"].Config["history"])

		require.Len(t, loaded.Routes, 1)
		r := loaded.Routes["route-1"]
		assert.Equal(t, "inst-clock", r.SourceInstanceID)
		assert.Equal(t, "trigger", r.SourceEvent)
		assert.Equal(t, "inst-log", r.TargetInstanceID)
		assert.Equal(t, "log", r.TargetInput)
		require.NotNil(t, r.Condition)
		assert.Equal(t, domain.OpExists, r.Condition.Op)

		require.Len(t, loaded.Interactions, 1)
		assert.ElementsMatch(t, []string{"inst-clock", "inst-log"}, loaded.Interactions["ia"].InstanceIDs)
		assert.Equal(t, "dark", loaded.Settings["theme"])
	})

	t.Run("Save Overwrites", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, sampleState()))
		require.NoError(t, b.Save(ctx, domain.NewAppState()))

		loaded, err := b.Load(ctx)
		require.NoError(t, err)
		assert.Empty(t, loaded.Instances)
		assert.Empty(t, loaded.Routes)
	})

	t.Run("Quarantine", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, sampleState()))

		where, err := b.Quarantine(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, where)

		_, err = b.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrStateNotFound, "Load after Quarantine should find nothing")

		require.NoError(t, b.Save(ctx, domain.NewAppState()), "Save after Quarantine should work")
	})

	t.Run("Delete", func(t *testing.T) {
		b := newBackend(t)
		require.NoError(t, b.Save(ctx, sampleState()))
		require.NoError(t, b.Delete(ctx))

		_, err := b.Load(ctx)
		assert.ErrorIs(t, err, domain.ErrStateNotFound)
		assert.NoError(t, b.Delete(ctx), "Delete of missing state should be a no-op")
	})
}

func sampleState() *domain.AppState {
	s := domain.NewAppState()
	created := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Instances["inst-clock"] = domain.InstanceSummary{
		ID:            "inst-clock",
		TypeName:      "clock-input",
		Version:       "1.0.0",
		InteractionID: "ia",
		Config:        domain.ModuleConfig{"targetTime": "14:30"},
		CreatedAt:     created,
	}
	s.Instances["inst-log"] = domain.InstanceSummary{
		ID:            "inst-log",
		TypeName:      "log-output",
		Version:       "1.0.0",
		InteractionID: "ia",
		Config:        domain.ModuleConfig{"history": 5},
		Runtime:       map[string]any{"received": 3},
		CreatedAt:     created,
	}
	s.Routes["route-1"] = domain.Route{
		ID:               "route-1",
		InteractionID:    "ia",
		SourceInstanceID: "inst-clock",
		SourceEvent:      "trigger",
		TargetInstanceID: "inst-log",
		TargetInput:      "log",
		Condition:        &domain.Condition{Field: "targetTime", Op: domain.OpExists},
	}
	s.Interactions["ia"] = domain.Interaction{
		ID:          "ia",
		Name:        "afternoon",
		Enabled:     true,
		InstanceIDs: []string{"inst-clock", "inst-log"},
		RouteIDs:    []string{"route-1"},
	}
	s.Settings["theme"] = "dark"
	return s
}
