// Package config provides environment-driven configuration loading for
// MockForge, generalized from the automation platform's
// infrastructure/config package. It drops the Marble/TEE secret-store
// integration (out of scope for this pipeline) but keeps the same
// env-with-fallback, CSV, byte-size, and duration parsing helpers.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Source supplies configuration values; the default implementation reads
// os.Environ, but tests and embedders can substitute a map.
type Source interface {
	Lookup(key string) (string, bool)
}

// EnvSource reads from the process environment.
type EnvSource struct{ lookup func(string) (string, bool) }

// NewEnvSource returns a Source backed by os.LookupEnv.
func NewEnvSource(lookup func(string) (string, bool)) EnvSource {
	return EnvSource{lookup: lookup}
}

func (e EnvSource) Lookup(key string) (string, bool) { return e.lookup(key) }

// MapSource is an in-memory Source, useful for tests.
type MapSource map[string]string

func (m MapSource) Lookup(key string) (string, bool) { v, ok := m[key]; return v, ok }

// String returns the trimmed value for key, or def if unset/blank.
func String(src Source, key, def string) string {
	if v, ok := src.Lookup(key); ok {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return def
}

// Bool parses key as a bool, or returns def on absence/parse failure.
func Bool(src Source, key string, def bool) bool {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}

// Int parses key as an int, or returns def on absence/parse failure.
func Int(src Source, key string, def int) int {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Int64 parses key as an int64, or returns def on absence/parse failure.
func Int64(src Source, key string, def int64) int64 {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return def
	}
	return n
}

// Duration parses key with time.ParseDuration, or returns def.
func Duration(src Source, key string, def time.Duration) time.Duration {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return d
}

// CSV splits key on commas, trimming whitespace and dropping empty
// entries, or returns def when unset.
func CSV(src Source, key string, def []string) []string {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

// ByteSize parses key as a size with an optional K/M/G suffix (e.g. "64M").
func ByteSize(src Source, key string, def int64) (int64, error) {
	v, ok := src.Lookup(key)
	if !ok || strings.TrimSpace(v) == "" {
		return def, nil
	}
	raw := strings.TrimSpace(strings.ToUpper(v))
	mult := int64(1)
	switch {
	case strings.HasSuffix(raw, "G"):
		mult = 1 << 30
		raw = strings.TrimSuffix(raw, "G")
	case strings.HasSuffix(raw, "M"):
		mult = 1 << 20
		raw = strings.TrimSuffix(raw, "M")
	case strings.HasSuffix(raw, "K"):
		mult = 1 << 10
		raw = strings.TrimSuffix(raw, "K")
	}
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", v, err)
	}
	return n * mult, nil
}
