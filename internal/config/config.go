package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the zalouser bridge.
type Config struct {
	Channels  ChannelsConfig  `json:"channels"`
	State     StateConfig     `json:"state"`
	Dedupe    DedupeConfig    `json:"dedupe,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	mu        sync.RWMutex
}

// ChannelsConfig holds per-channel settings.
type ChannelsConfig struct {
	ZaloUser ZaloUserConfig `json:"zalouser"`
}

// ZaloUserConfig configures the Zalo personal-account channel.
// WARNING: the personal-account API is unofficial. Accounts may be locked.
type ZaloUserConfig struct {
	Enabled        bool                `json:"enabled"`
	Binary         string              `json:"binary,omitempty"`     // zca executable (default "zca" on PATH)
	Profile        string              `json:"profile,omitempty"`    // zca --profile
	AccountID      string              `json:"account_id,omitempty"` // default "default"
	DMPolicy       string              `json:"dm_policy,omitempty"`       // "allowlist" (default), "open", "disabled"
	GroupPolicy    string              `json:"group_policy,omitempty"`    // "allowlist" (default), "open", "disabled"
	RequireMention *bool               `json:"require_mention,omitempty"` // require @bot in groups (default true)
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
	GroupAllowFrom FlexibleStringSlice `json:"group_allow_from,omitempty"`
	HistoryLimit   *int                `json:"history_limit,omitempty"` // pending group messages kept (default 50, 0 disables)
	DebounceMs     *int                `json:"debounce_ms,omitempty"`   // inbound coalescing window (default 1200, 0 disables)
	TextChunkLimit int                 `json:"text_chunk_limit,omitempty"`
	SendRatePerSec float64             `json:"send_rate_per_sec,omitempty"` // per-thread send rate (default 1)
	SendBurst      int                 `json:"send_burst,omitempty"`
}

const (
	DefaultAccountID      = "default"
	DefaultHistoryLimit   = 50
	DefaultDebounceMs     = 1200
	DefaultTextChunkLimit = 2000
	DefaultSendRate       = 1.0
	DefaultSendBurst      = 3
)

// RequireMentionOrDefault resolves require_mention.
func (z ZaloUserConfig) RequireMentionOrDefault() bool {
	if z.RequireMention == nil {
		return true
	}
	return *z.RequireMention
}

// HistoryLimitOrDefault resolves history_limit; negative values disable.
func (z ZaloUserConfig) HistoryLimitOrDefault() int {
	if z.HistoryLimit == nil {
		return DefaultHistoryLimit
	}
	return max(*z.HistoryLimit, 0)
}

// DebounceDelay resolves debounce_ms.
func (z ZaloUserConfig) DebounceDelay() time.Duration {
	ms := DefaultDebounceMs
	if z.DebounceMs != nil {
		ms = max(*z.DebounceMs, 0)
	}
	return time.Duration(ms) * time.Millisecond
}

// ChunkLimit resolves text_chunk_limit.
func (z ZaloUserConfig) ChunkLimit() int {
	if z.TextChunkLimit <= 0 {
		return DefaultTextChunkLimit
	}
	return z.TextChunkLimit
}

// Account resolves account_id.
func (z ZaloUserConfig) Account() string {
	if z.AccountID == "" {
		return DefaultAccountID
	}
	return z.AccountID
}

// StateConfig configures durable state.
type StateConfig struct {
	Dir     string `json:"dir,omitempty"`     // default "~/.zalouser/state"
	Backend string `json:"backend,omitempty"` // "file" (default) or "sqlite"
	Watch   bool   `json:"watch,omitempty"`   // reload bindings edited by other processes (file backend)
}

// DedupeConfig tunes the outbound duplicate-send guard.
type DedupeConfig struct {
	RecentTTL string `json:"recent_ttl,omitempty"` // Go duration (default "30s")
}

// RecentTTLDuration parses recent_ttl, returning 0 (package default) when
// unset or invalid.
func (d DedupeConfig) RecentTTLDuration() time.Duration {
	if d.RecentTTL == "" {
		return 0
	}
	v, err := time.ParseDuration(d.RecentTTL)
	if err != nil || v <= 0 {
		return 0
	}
	return v
}

// TelemetryConfig configures OpenTelemetry export for traces and spans.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // OTLP endpoint (e.g. "localhost:4317")
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`     // plaintext (local collectors)
	ServiceName string            `json:"service_name,omitempty"` // default "zalouser"
	Headers     map[string]string `json:"headers,omitempty"`
}

// StateDir returns the expanded state directory.
func (c *Config) StateDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.State.Dir)
}

// StatePath joins name onto the state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.StateDir(), name)
}
