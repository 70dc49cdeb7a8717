// Package decode turns validated module configs into typed adapter settings.
package decode

import (
	"github.com/aretw0/interplay/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Config decodes cfg into out, a pointer to a struct with mapstructure tags.
// Numbers may arrive as json.Number and durations as strings.
func Config(cfg domain.ModuleConfig, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(map[string]any(cfg))
}
