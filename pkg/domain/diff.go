package domain

import (
	"reflect"
	"sort"
)

// StateDiff represents the structural changes between two application states.
// It is what a full-graph replace has to apply to the live runtime.
type StateDiff struct {
	AddedInstances   []string `json:"addedInstances,omitempty"`
	RemovedInstances []string `json:"removedInstances,omitempty"`
	// ChangedConfigs holds, per instance, only changed, added or deleted keys.
	// For deletions, the key is present with a nil value, ready for ModuleConfig.Merge.
	ChangedConfigs map[string]ModuleConfig `json:"changedConfigs,omitempty"`
	AddedRoutes    []string                `json:"addedRoutes,omitempty"`
	RemovedRoutes  []string                `json:"removedRoutes,omitempty"`
}

// Diff calculates the difference between oldState and newState.
// If oldState is nil, everything in newState counts as added.
func Diff(oldState, newState *AppState) *StateDiff {
	if newState == nil {
		return nil
	}
	if oldState == nil {
		oldState = NewAppState()
	}

	diff := &StateDiff{}

	for id, inst := range newState.Instances {
		prev, ok := oldState.Instances[id]
		switch {
		case !ok:
			diff.AddedInstances = append(diff.AddedInstances, id)
		case prev.TypeName != inst.TypeName:
			// a type change is a replacement
			diff.RemovedInstances = append(diff.RemovedInstances, id)
			diff.AddedInstances = append(diff.AddedInstances, id)
		default:
			if delta := DiffConfig(prev.Config, inst.Config); len(delta) > 0 {
				if diff.ChangedConfigs == nil {
					diff.ChangedConfigs = make(map[string]ModuleConfig)
				}
				diff.ChangedConfigs[id] = delta
			}
		}
	}
	for id := range oldState.Instances {
		if _, ok := newState.Instances[id]; !ok {
			diff.RemovedInstances = append(diff.RemovedInstances, id)
		}
	}

	for id, r := range newState.Routes {
		prev, ok := oldState.Routes[id]
		if !ok {
			diff.AddedRoutes = append(diff.AddedRoutes, id)
			continue
		}
		if !reflect.DeepEqual(prev, r) {
			diff.RemovedRoutes = append(diff.RemovedRoutes, id)
			diff.AddedRoutes = append(diff.AddedRoutes, id)
		}
	}
	for id := range oldState.Routes {
		if _, ok := newState.Routes[id]; !ok {
			diff.RemovedRoutes = append(diff.RemovedRoutes, id)
		}
	}

	sort.Strings(diff.AddedInstances)
	sort.Strings(diff.RemovedInstances)
	sort.Strings(diff.AddedRoutes)
	sort.Strings(diff.RemovedRoutes)

	if diff.IsEmpty() {
		return nil
	}
	return diff
}

// DiffConfig returns the keys that changed between two configs.
// Deleted keys map to nil.
func DiffConfig(old, new ModuleConfig) ModuleConfig {
	delta := make(ModuleConfig)

	for k, newVal := range new {
		oldVal, exists := old[k]
		if !exists || !reflect.DeepEqual(oldVal, newVal) {
			delta[k] = newVal
		}
	}
	for k := range old {
		if _, exists := new[k]; !exists {
			delta[k] = nil
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

// IsEmpty checks if the diff contains any actionable changes.
func (d *StateDiff) IsEmpty() bool {
	return len(d.AddedInstances) == 0 &&
		len(d.RemovedInstances) == 0 &&
		len(d.ChangedConfigs) == 0 &&
		len(d.AddedRoutes) == 0 &&
		len(d.RemovedRoutes) == 0
}
