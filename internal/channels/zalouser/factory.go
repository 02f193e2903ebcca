package zalouser

import (
	"fmt"

	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/config"
)

// NewRunner builds the zca runner described by cfg.
func NewRunner(cfg config.ZaloUserConfig) *zca.Runner {
	return &zca.Runner{
		Binary:  cfg.Binary,
		Profile: cfg.Profile,
	}
}

// NewFromConfig creates the channel for cfg, validating the policy values.
func NewFromConfig(cfg config.ZaloUserConfig, msgBus *bus.MessageBus, deps Deps, opts ...Option) (*Channel, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("zalouser channel is disabled")
	}
	for name, v := range map[string]string{"dm_policy": cfg.DMPolicy, "group_policy": cfg.GroupPolicy} {
		switch v {
		case "", "open", "allowlist", "disabled":
		default:
			return nil, fmt.Errorf("zalouser: invalid %s %q", name, v)
		}
	}
	return New(cfg, NewRunner(cfg), msgBus, deps, opts...), nil
}
