// Package schema validates module configurations against the ConfigSchema
// declared in a manifest.
//
// It defines a small type system (string, int, float, bool, duration, any and
// slices of those) plus custom validators. A manifest schema is compiled once,
// when the manifest is loaded, and then applied to every config an instance
// receives:
//
//	compiled, err := schema.Compile(manifest.ConfigSchema)
//	if err != nil {
//	    // the manifest declares an unknown type or a bad default
//	}
//
//	cfg, err := compiled.Apply(map[string]any{"targetTime": "14:30"})
//	if err != nil {
//	    for _, fe := range schema.ValidationErrors(err) {
//	        // one *ValidationError per offending key
//	    }
//	}
//
// Apply fills schema defaults into a copy of the config. Numbers decoded with
// json.Number are accepted wherever an int or float is expected.
package schema
