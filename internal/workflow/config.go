package workflow

// mergeConfig deep-merges override into base, override winning on key
// conflicts at every level (spec §4.5: "config node taking precedence").
// Multiple config nodes are merged in caller-supplied edge order before this
// is applied to the sink's own data.config.
func mergeConfig(base, override map[string]any) map[string]any {
	if base == nil {
		base = map[string]any{}
	}
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		if existing, ok := out[k]; ok {
			if em, eok := existing.(map[string]any); eok {
				if vm, vok := v.(map[string]any); vok {
					out[k] = mergeConfig(em, vm)
					continue
				}
			}
		}
		out[k] = v
	}
	return out
}

// mergeConfigsInOrder folds a sequence of config-node payloads onto a sink's
// base config, later entries overriding earlier ones.
func mergeConfigsInOrder(base map[string]any, overrides []map[string]any) map[string]any {
	out := base
	for _, o := range overrides {
		out = mergeConfig(out, o)
	}
	return out
}
