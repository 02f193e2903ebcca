package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// DefaultPath is used when neither --config nor $ZALOUSER_CONFIG is set.
const DefaultPath = "config.json"

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Channels: ChannelsConfig{
			ZaloUser: ZaloUserConfig{
				DMPolicy:    "allowlist",
				GroupPolicy: "allowlist",
			},
		},
		State: StateConfig{
			Dir:     "~/.zalouser/state",
			Backend: "file",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "zalouser",
		},
	}
}

// ResolvePath picks the config file: explicit flag, then env, then default.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if v := os.Getenv("ZALOUSER_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields defaults plus env.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the channel cannot run with.
func (c *Config) Validate() error {
	z := c.Channels.ZaloUser
	for name, v := range map[string]string{"dm_policy": z.DMPolicy, "group_policy": z.GroupPolicy} {
		switch v {
		case "", "open", "allowlist", "disabled":
		default:
			return fmt.Errorf("config: channels.zalouser.%s: unknown policy %q", name, v)
		}
	}
	switch c.State.Backend {
	case "", "file", "sqlite":
	default:
		return fmt.Errorf("config: state.backend: unknown backend %q", c.State.Backend)
	}
	switch c.Telemetry.Protocol {
	case "", "grpc", "http":
	default:
		return fmt.Errorf("config: telemetry.protocol: unknown protocol %q", c.Telemetry.Protocol)
	}
	if z.SendRatePerSec < 0 {
		return fmt.Errorf("config: channels.zalouser.send_rate_per_sec must be >= 0")
	}
	return nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = v == "true" || v == "1"
		}
	}
	envInt := func(key string, dst **int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = &n
			}
		}
	}

	z := &c.Channels.ZaloUser
	envStr("ZALOUSER_BINARY", &z.Binary)
	envStr("ZALOUSER_PROFILE", &z.Profile)
	envStr("ZALOUSER_ACCOUNT_ID", &z.AccountID)
	envStr("ZALOUSER_DM_POLICY", &z.DMPolicy)
	envStr("ZALOUSER_GROUP_POLICY", &z.GroupPolicy)
	envInt("ZALOUSER_HISTORY_LIMIT", &z.HistoryLimit)
	envInt("ZALOUSER_DEBOUNCE_MS", &z.DebounceMs)
	if v := os.Getenv("ZALOUSER_ALLOW_FROM"); v != "" {
		z.AllowFrom = splitList(v)
	}
	if v := os.Getenv("ZALOUSER_GROUP_ALLOW_FROM"); v != "" {
		z.GroupAllowFrom = splitList(v)
	}
	if v := os.Getenv("ZALOUSER_REQUIRE_MENTION"); v != "" {
		b := v == "true" || v == "1"
		z.RequireMention = &b
	}
	envBool("ZALOUSER_ENABLED", &z.Enabled)
	// A profile from env implies the operator wants the channel on.
	if os.Getenv("ZALOUSER_PROFILE") != "" && os.Getenv("ZALOUSER_ENABLED") == "" {
		z.Enabled = true
	}

	envStr("ZALOUSER_STATE_DIR", &c.State.Dir)
	envStr("ZALOUSER_STATE_BACKEND", &c.State.Backend)
	envBool("ZALOUSER_STATE_WATCH", &c.State.Watch)
	envStr("ZALOUSER_DEDUPE_RECENT_TTL", &c.Dedupe.RecentTTL)

	envStr("ZALOUSER_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ZALOUSER_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("ZALOUSER_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	envBool("ZALOUSER_TELEMETRY_ENABLED", &c.Telemetry.Enabled)
	envBool("ZALOUSER_TELEMETRY_INSECURE", &c.Telemetry.Insecure)
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
