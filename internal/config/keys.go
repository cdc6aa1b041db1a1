package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "backend.base_url", typ: kString, env: "OPCONSOLE_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.timeout", typ: kDuration, env: "OPCONSOLE_BACKEND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "backend.token", typ: kString, env: "OPCONSOLE_BACKEND_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Backend.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.Token },
	},
	{
		key: "server.port", typ: kInt, env: "OPCONSOLE_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OPCONSOLE_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "OPCONSOLE_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.format", typ: kString, env: "OPCONSOLE_LOG_FORMAT",
		apply:   func(cfg *Config, v any) { cfg.Log.Format = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Format },
	},
	{
		key: "poll.graph_active", typ: kDuration, env: "OPCONSOLE_POLL_GRAPH_ACTIVE",
		apply:   func(cfg *Config, v any) { cfg.Poll.GraphActive = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.GraphActive },
	},
	{
		key: "poll.graph_idle", typ: kDuration, env: "OPCONSOLE_POLL_GRAPH_IDLE",
		apply:   func(cfg *Config, v any) { cfg.Poll.GraphIdle = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.GraphIdle },
	},
	{
		key: "poll.timeline", typ: kDuration, env: "OPCONSOLE_POLL_TIMELINE",
		apply:   func(cfg *Config, v any) { cfg.Poll.Timeline = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.Timeline },
	},
	{
		key: "poll.run_log", typ: kDuration, env: "OPCONSOLE_POLL_RUN_LOG",
		apply:   func(cfg *Config, v any) { cfg.Poll.RunLog = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Poll.RunLog },
	},
	{
		key: "poll.max_backoff_factor", typ: kInt, env: "OPCONSOLE_POLL_MAX_BACKOFF_FACTOR",
		apply:   func(cfg *Config, v any) { cfg.Poll.MaxBackoffFactor = v.(int) },
		extract: func(cfg Config) any { return cfg.Poll.MaxBackoffFactor },
	},
	{
		key: "graph.tunnel_node", typ: kString, env: "OPCONSOLE_GRAPH_TUNNEL_NODE",
		apply:   func(cfg *Config, v any) { cfg.Graph.TunnelNode = v.(string) },
		extract: func(cfg Config) any { return cfg.Graph.TunnelNode },
	},
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					slog.Warn("could not parse duration from config, using default", "key", s.key, "value", v, "error", err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				slog.Warn("could not parse integer from env, using default", "env", s.env, "value", raw, "error", err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				slog.Warn("could not parse duration from env, using default", "env", s.env, "value", raw, "error", err)
			}
		}
	}
}
