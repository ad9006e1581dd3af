package flow

import (
	"encoding/json"
	"fmt"
)

// DeepMerge combines existing state with a partial update and returns the
// merged document. Objects merge recursively; the incoming side wins on
// scalar conflicts and whenever the two sides disagree on type; arrays are
// replaced wholesale; an explicit JSON null deletes the key.
func DeepMerge(existing, incoming json.RawMessage) (json.RawMessage, error) {
	base, err := decodeObject(existing)
	if err != nil {
		return nil, fmt.Errorf("decode existing state: %w", err)
	}
	update, err := decodeObject(incoming)
	if err != nil {
		return nil, fmt.Errorf("decode merge value: %w", err)
	}

	merged := mergeMaps(base, update)
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal merged state: %w", err)
	}
	return out, nil
}

func mergeMaps(base, update map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(update))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range update {
		if v == nil {
			delete(out, k)
			continue
		}
		uv, uok := v.(map[string]any)
		bv, bok := out[k].(map[string]any)
		if uok && bok {
			out[k] = mergeMaps(bv, uv)
			continue
		}
		out[k] = v
	}
	return out
}

func decodeObject(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}
