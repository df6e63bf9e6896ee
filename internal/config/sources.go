package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/datakitchen/observability-agent/internal/redact"
)

// FieldSource resolves a single configuration block's fields against the
// precedence order: explicit overrides, environment variables (tried in
// the given prefix order, case-insensitively), the parsed TOML file
// section, then whatever default the caller supplies inline.
type FieldSource struct {
	explicit    map[string]any
	envPrefixes []string
	envIndex    map[string]string
	fileSection map[string]any
}

func newFieldSource(explicit map[string]any, envPrefixes []string, fileSection map[string]any) *FieldSource {
	return &FieldSource{
		explicit:    explicit,
		envPrefixes: envPrefixes,
		envIndex:    buildEnvIndex(),
		fileSection: fileSection,
	}
}

func buildEnvIndex() map[string]string {
	idx := make(map[string]string)
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		idx[strings.ToUpper(parts[0])] = parts[1]
	}
	return idx
}

// raw resolves key through explicit -> env -> file, in that order.
func (s *FieldSource) raw(key string) (any, bool) {
	if s.explicit != nil {
		if v, ok := s.explicit[key]; ok {
			return v, true
		}
	}
	for _, prefix := range s.envPrefixes {
		envKey := strings.ToUpper(prefix + key)
		if v, ok := s.envIndex[envKey]; ok {
			return v, true
		}
	}
	if s.fileSection != nil {
		if v, ok := s.fileSection[key]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *FieldSource) String(key, def string) string {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	return fmt.Sprint(v)
}

// Secret resolves a secret-typed field. Values never pass through
// String(); callers get a redact.Secret that masks itself everywhere
// except Reveal().
func (s *FieldSource) Secret(key, def string) redact.Secret {
	v, ok := s.raw(key)
	if !ok {
		return redact.NewSecret(def)
	}
	return redact.NewSecret(fmt.Sprint(v))
}

func (s *FieldSource) Bool(key string, def bool) bool {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		lower := strings.ToLower(strings.TrimSpace(t))
		return lower == "true" || lower == "1" || lower == "yes" || lower == "y"
	default:
		return def
	}
}

func (s *FieldSource) Int(key string, def int) int {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Port resolves a network port field, validating the 1..65535 range.
func (s *FieldSource) Port(key string, def int) (int, error) {
	v := s.Int(key, def)
	if v < 1 || v > 65535 {
		return 0, fmt.Errorf("%s: %d is not a valid network port (1-65535)", key, v)
	}
	return v, nil
}

func (s *FieldSource) Float(key string, def float64) float64 {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return def
		}
		return parsed
	default:
		return def
	}
}

// Seconds resolves a non-negative-float-seconds field into a Duration.
func (s *FieldSource) Seconds(key string, def time.Duration) time.Duration {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		if parsed, err := time.ParseDuration(t); err == nil {
			return parsed
		}
		if parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
			return time.Duration(parsed * float64(time.Second))
		}
		return def
	case float64:
		return time.Duration(t * float64(time.Second))
	case int:
		return time.Duration(t) * time.Second
	case int64:
		return time.Duration(t) * time.Second
	default:
		return def
	}
}

// StringSlice resolves a set-of-strings field. Accepts a JSON array
// string (per spec: "list/set values accept JSON array strings"), a
// CSV string, or a native []any/[]string from the TOML file.
func (s *FieldSource) StringSlice(key string, def []string) []string {
	v, ok := s.raw(key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			out = append(out, fmt.Sprint(e))
		}
		return out
	case string:
		trimmed := strings.TrimSpace(t)
		if strings.HasPrefix(trimmed, "[") {
			var parsed []string
			if err := json.Unmarshal([]byte(trimmed), &parsed); err == nil {
				return parsed
			}
		}
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	default:
		return def
	}
}

// URL resolves an HTTP(S) URL field, validating the scheme.
func (s *FieldSource) URL(key, def string) (string, error) {
	raw := s.String(key, def)
	if raw == "" {
		return "", nil
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", fmt.Errorf("%s: %q is not a valid HTTP URL", key, raw)
	}
	return raw, nil
}

// WebSocketURL resolves a ws/wss URL field.
func (s *FieldSource) WebSocketURL(key, def string) (string, error) {
	raw := s.String(key, def)
	if raw == "" {
		return "", nil
	}
	if !strings.HasPrefix(raw, "ws://") && !strings.HasPrefix(raw, "wss://") {
		return "", fmt.Errorf("%s: %q is not a valid WebSocket URL", key, raw)
	}
	return raw, nil
}
