// Package config provides configuration for easel sessions.
//
// Configuration is organized in layers with higher layers overriding lower:
//
//	┌─────────────────────────────┐
//	│  3. Environment (EASEL_*)   │  ← Highest priority
//	├─────────────────────────────┤
//	│  2. Config file (TOML/YAML) │
//	├─────────────────────────────┤
//	│  1. Built-in Defaults       │  ← Lowest priority
//	└─────────────────────────────┘
//
// # Basic Usage
//
//	cfg, err := config.Load("easel.toml")
//	if err != nil {
//	    return err
//	}
//	h := history.New(doc, history.WithMaxEntries(cfg.History.MaxEntries))
//
// # Live Reload
//
// Watcher reloads the file when it changes on disk and hands the new,
// validated Config to a callback. Invalid files are reported and the
// previous configuration stays in effect.
package config
