package loader

import (
	"os"
	"strconv"
	"strings"
)

// EnvLoader reads bound environment variables into config paths.
// Variables outside the prefix are ignored even when bound.
type EnvLoader struct {
	prefix string
	binds  map[string]string
	lookup func(string) (string, bool)
}

// NewEnvLoader returns a loader with DefaultEnvMapping bound. prefix
// includes the trailing underscore, e.g. "EASEL_".
func NewEnvLoader(prefix string) *EnvLoader {
	return NewEnvLoaderWithMapping(prefix, DefaultEnvMapping())
}

// NewEnvLoaderWithMapping returns a loader with mapping (variable to dotted
// config path) bound.
func NewEnvLoaderWithMapping(prefix string, mapping map[string]string) *EnvLoader {
	binds := make(map[string]string, len(mapping))
	for k, v := range mapping {
		binds[k] = v
	}
	return &EnvLoader{prefix: prefix, binds: binds, lookup: os.LookupEnv}
}

// DefaultEnvMapping returns the built-in bindings.
func DefaultEnvMapping() map[string]string {
	return map[string]string{
		"EASEL_LOG_LEVEL":      "logging.level",
		"EASEL_LOG_FORMAT":     "logging.format",
		"EASEL_HISTORY_MAX":    "history.maxEntries",
		"EASEL_CACHE_CAPACITY": "cache.capacity",
		"EASEL_PREVIEW_QUEUE":  "queue.maxPreviewQueue",
		"EASEL_STORE_PATH":     "store.path",
	}
}

// WithLookup replaces os.LookupEnv.
func (l *EnvLoader) WithLookup(fn func(string) (string, bool)) *EnvLoader {
	l.lookup = fn
	return l
}

// AddMapping binds one more variable.
func (l *EnvLoader) AddMapping(envVar, configPath string) {
	l.binds[envVar] = configPath
}

// Load implements Loader. A variable set to the empty string is a value.
func (l *EnvLoader) Load() (map[string]any, error) {
	out := map[string]any{}
	for name, path := range l.binds {
		if !strings.HasPrefix(name, l.prefix) {
			continue
		}
		if raw, ok := l.lookup(name); ok {
			setPath(out, strings.Split(path, "."), parseValue(raw))
		}
	}
	return out, nil
}

// parseValue types a raw variable: boolean words, integers, then decimals.
// Strings without a '.' never become floats.
func parseValue(s string) any {
	switch strings.ToLower(s) {
	case "true", "yes", "on":
		return true
	case "false", "no", "off":
		return false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if strings.Contains(s, ".") {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}
	return s
}

func setPath(m map[string]any, keys []string, v any) {
	if len(keys) == 1 {
		m[keys[0]] = v
		return
	}
	sub, ok := m[keys[0]].(map[string]any)
	if !ok {
		sub = map[string]any{}
		m[keys[0]] = sub
	}
	setPath(sub, keys[1:], v)
}
