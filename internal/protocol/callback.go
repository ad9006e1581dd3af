package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// MaxCallbackBytes is the size budget for encoded callback data. The chat
// platform truncates anything longer, so the encoder rejects it outright.
const MaxCallbackBytes = 64

const callbackPrefix = "svc:"

// EncodeCallback builds the compact callback data string for a service and
// a flat parameter set: svc:<short-id>|<k1>:<v1>;<k2>:<v2>. Parameters are
// emitted in sorted key order so output is deterministic.
func EncodeCallback(shortID string, params map[string]string) (string, error) {
	if !isCallbackToken(shortID) {
		return "", fmt.Errorf("invalid short service id %q", shortID)
	}

	var b strings.Builder
	b.WriteString(callbackPrefix)
	b.WriteString(shortID)

	if len(params) > 0 {
		keys := make([]string, 0, len(params))
		for k := range params {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('|')
		for i, k := range keys {
			v := params[k]
			if !isCallbackToken(k) {
				return "", fmt.Errorf("invalid callback parameter key %q", k)
			}
			if !isCallbackToken(v) {
				return "", fmt.Errorf("invalid callback parameter value %q", v)
			}
			if i > 0 {
				b.WriteByte(';')
			}
			b.WriteString(k)
			b.WriteByte(':')
			b.WriteString(v)
		}
	}

	encoded := b.String()
	if len(encoded) > MaxCallbackBytes {
		return "", fmt.Errorf("callback data exceeds %d bytes (%d)", MaxCallbackBytes, len(encoded))
	}
	return encoded, nil
}

// ParseCallback recovers the short service id and parameter map from callback
// data. The parser is strict: anything outside the documented format is an
// error, not a best-effort guess.
func ParseCallback(data string) (string, map[string]string, error) {
	if len(data) > MaxCallbackBytes {
		return "", nil, fmt.Errorf("callback data exceeds %d bytes (%d)", MaxCallbackBytes, len(data))
	}
	if !strings.HasPrefix(data, callbackPrefix) {
		return "", nil, fmt.Errorf("callback data missing %q prefix", callbackPrefix)
	}

	rest := data[len(callbackPrefix):]
	shortID := rest
	paramPart := ""
	if i := strings.IndexByte(rest, '|'); i >= 0 {
		shortID = rest[:i]
		paramPart = rest[i+1:]
		if paramPart == "" {
			return "", nil, fmt.Errorf("callback data has empty parameter section")
		}
	}

	if !isCallbackToken(shortID) {
		return "", nil, fmt.Errorf("invalid short service id %q", shortID)
	}

	params := make(map[string]string)
	if paramPart != "" {
		for _, pair := range strings.Split(paramPart, ";") {
			k, v, ok := strings.Cut(pair, ":")
			if !ok {
				return "", nil, fmt.Errorf("malformed callback parameter %q", pair)
			}
			if !isCallbackToken(k) {
				return "", nil, fmt.Errorf("invalid callback parameter key %q", k)
			}
			if !isCallbackToken(v) {
				return "", nil, fmt.Errorf("invalid callback parameter value %q", v)
			}
			if _, dup := params[k]; dup {
				return "", nil, fmt.Errorf("duplicate callback parameter key %q", k)
			}
			params[k] = v
		}
	}

	return shortID, params, nil
}

// isCallbackToken reports whether s is non-empty and contains only the
// characters allowed in callback ids, keys and values.
func isCallbackToken(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9':
		case c == '_' || c == '.' || c == '-':
		default:
			return false
		}
	}
	return true
}
