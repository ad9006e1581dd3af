package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// EncodePayload serializes a Payload to JSON and writes it to w as one line.
func EncodePayload(w io.Writer, p *Payload) error {
	if p.Protocol != Version {
		return fmt.Errorf("unsupported protocol version: %d", p.Protocol)
	}
	if p.InvocationID == "" {
		return fmt.Errorf("payload missing invocation id")
	}

	encoder := json.NewEncoder(w)
	if err := encoder.Encode(p); err != nil {
		return fmt.Errorf("failed to encode payload: %w", err)
	}

	return nil
}

// DecodeResult parses the raw stdout of a sandboxed service into a Result.
// Returns an error if the output is empty, not JSON, or violates the
// per-kind field requirements.
func DecodeResult(data []byte) (*Result, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("service produced no output on stdout")
	}

	var res Result
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, fmt.Errorf("service output is not valid JSON: %w", err)
	}

	switch res.Kind {
	case KindReply:
		if res.Text == "" {
			return nil, fmt.Errorf("reply result missing text")
		}
	case KindEdit:
		if res.MessageID == 0 {
			return nil, fmt.Errorf("edit result missing message_id")
		}
		if res.Text == "" {
			return nil, fmt.Errorf("edit result missing text")
		}
	case KindNone:
	case KindError:
		if res.Message == "" {
			return nil, fmt.Errorf("error result missing message")
		}
	case "":
		return nil, fmt.Errorf("result missing required field: kind")
	default:
		return nil, fmt.Errorf("invalid result kind: %q", res.Kind)
	}

	if res.State != nil {
		if err := validateDirective(res.State); err != nil {
			return nil, err
		}
	}

	return &res, nil
}

func validateDirective(d *StateDirective) error {
	switch d.Op {
	case OpClear:
		if hasValue(d.Value) {
			return fmt.Errorf("clear directive must not carry a value")
		}
	case OpReplace, OpMerge:
		if !hasValue(d.Value) {
			return fmt.Errorf("%s directive requires a value", d.Op)
		}
		if !isJSONObject(d.Value) {
			return fmt.Errorf("%s directive value must be a JSON object", d.Op)
		}
	case "":
		return fmt.Errorf("state directive missing op")
	default:
		return fmt.Errorf("invalid state directive op: %q", d.Op)
	}
	return nil
}

// hasValue reports whether a raw value is present and not JSON null.
func hasValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed)
}
