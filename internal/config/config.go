package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/dshills/easel/internal/config/loader"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "EASEL_"

// Config is the complete session configuration.
type Config struct {
	History  HistoryConfig  `json:"history" toml:"history" yaml:"history"`
	Queue    QueueConfig    `json:"queue" toml:"queue" yaml:"queue"`
	Cache    CacheConfig    `json:"cache" toml:"cache" yaml:"cache"`
	Render   RenderConfig   `json:"render" toml:"render" yaml:"render"`
	Snapshot SnapshotConfig `json:"snapshot" toml:"snapshot" yaml:"snapshot"`
	Logging  LoggingConfig  `json:"logging" toml:"logging" yaml:"logging"`
	Store    StoreConfig    `json:"store" toml:"store" yaml:"store"`
}

// HistoryConfig bounds the undo stack.
type HistoryConfig struct {
	MaxEntries int `json:"maxEntries" toml:"maxEntries" yaml:"maxEntries"`
}

// QueueConfig configures the render lanes.
type QueueConfig struct {
	PreviewLane     string `json:"previewLane" toml:"previewLane" yaml:"previewLane"`
	MaxPreviewQueue int    `json:"maxPreviewQueue" toml:"maxPreviewQueue" yaml:"maxPreviewQueue"`
	CompactLane     string `json:"compactLane" toml:"compactLane" yaml:"compactLane"`
}

// CacheConfig sizes the element bitmap cache.
type CacheConfig struct {
	Capacity int `json:"capacity" toml:"capacity" yaml:"capacity"`
}

// RenderConfig sets the drawing context.
type RenderConfig struct {
	Width      int    `json:"width" toml:"width" yaml:"width"`
	Height     int    `json:"height" toml:"height" yaml:"height"`
	Background string `json:"background" toml:"background" yaml:"background"`
}

// SnapshotConfig controls bitmap snapshot compaction.
type SnapshotConfig struct {
	Compress bool `json:"compress" toml:"compress" yaml:"compress"`
	Level    int  `json:"level" toml:"level" yaml:"level"`
}

// LoggingConfig configures the session logger.
type LoggingConfig struct {
	Level  string `json:"level" toml:"level" yaml:"level"`
	Format string `json:"format" toml:"format" yaml:"format"`
}

// StoreConfig locates persisted documents. A path ending in .db selects the
// SQLite store; anything else is a directory for the JSON file store.
type StoreConfig struct {
	Path string `json:"path" toml:"path" yaml:"path"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		History: HistoryConfig{MaxEntries: 1000},
		Queue: QueueConfig{
			PreviewLane:     "preview",
			MaxPreviewQueue: 2,
			CompactLane:     "compact",
		},
		Cache:    CacheConfig{Capacity: 256},
		Render:   RenderConfig{Width: 1024, Height: 768},
		Snapshot: SnapshotConfig{Compress: true, Level: 3},
		Logging:  LoggingConfig{Level: "info", Format: "text"},
		Store:    StoreConfig{Path: "documents"},
	}
}

// Load builds a Config from defaults, the file at path and EASEL_
// environment variables, then validates it. path may be empty; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	return LoadWith(loader.DefaultFS(), path, loader.NewEnvLoader(EnvPrefix))
}

// LoadWith is Load with an explicit file system and environment loader.
// env may be nil to skip environment overrides.
func LoadWith(fsys loader.FileSystem, path string, env loader.Loader) (*Config, error) {
	merged, err := Default().toMap()
	if err != nil {
		return nil, err
	}

	if path != "" {
		fl, err := loader.ForPath(fsys, path)
		if err != nil {
			return nil, err
		}
		m, err := fl.Load()
		if err != nil {
			return nil, err
		}
		merged = loader.DeepMerge(merged, m)
	}

	if env != nil {
		m, err := env.Load()
		if err != nil {
			return nil, fmt.Errorf("loading environment: %w", err)
		}
		merged = loader.DeepMerge(merged, m)
	}

	cfg, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// toMap converts c to the nested map form loaders produce.
func (c *Config) toMap() (map[string]any, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromMap(m map[string]any) (*Config, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		var terr *json.UnmarshalTypeError
		if errors.As(err, &terr) {
			return nil, &ValidationError{Path: terr.Field, Message: "wrong type " + terr.Value}
		}
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	positive := func(path string, v int) {
		if v <= 0 {
			errs = append(errs, &ValidationError{Path: path, Message: fmt.Sprintf("must be positive, got %d", v)})
		}
	}
	positive("history.maxEntries", c.History.MaxEntries)
	positive("queue.maxPreviewQueue", c.Queue.MaxPreviewQueue)
	positive("cache.capacity", c.Cache.Capacity)
	positive("render.width", c.Render.Width)
	positive("render.height", c.Render.Height)

	if c.Queue.PreviewLane == "" || c.Queue.CompactLane == "" {
		errs = append(errs, &ValidationError{Path: "queue", Message: "lane names must be set"})
	} else if c.Queue.PreviewLane == c.Queue.CompactLane {
		errs = append(errs, &ValidationError{Path: "queue", Message: "preview and compact lanes must differ"})
	}
	if c.Snapshot.Level < 1 || c.Snapshot.Level > 22 {
		errs = append(errs, &ValidationError{Path: "snapshot.level", Message: fmt.Sprintf("must be in 1..22, got %d", c.Snapshot.Level)})
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, &ValidationError{Path: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)})
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		errs = append(errs, &ValidationError{Path: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)})
	}
	return errors.Join(errs...)
}
