package policy

import (
	"fmt"

	"github.com/spf13/viper"
)

// rawToolPolicy mirrors the YAML shape of one per_tool entry, before its
// arg_allowlist values are converted into AllowlistValue.
type rawToolPolicy struct {
	Allow        *bool          `mapstructure:"allow"`
	TimeoutMs    *int64         `mapstructure:"timeout_ms"`
	MaxBytes     *int64         `mapstructure:"max_bytes"`
	ArgAllowlist map[string]any `mapstructure:"arg_allowlist"`
}

type rawConfig struct {
	DefaultDeny     bool                     `mapstructure:"default_deny"`
	AllowTools      []string                 `mapstructure:"allow_tools"`
	DenyTools       []string                 `mapstructure:"deny_tools"`
	GlobalTimeoutMs int64                    `mapstructure:"global_timeout_ms"`
	GlobalMaxBytes  int64                    `mapstructure:"global_max_bytes"`
	PerTool         map[string]rawToolPolicy `mapstructure:"per_tool"`
}

// LoadConfig reads the policy document at path and converts it into a
// Config. The document uses plain YAML/JSON scalars for arg_allowlist
// entries (spec §3's "true", a list, a "regex:"-prefixed string, or a bare
// literal); ParseAllowlistValue interprets each one.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("default_deny", true)
	v.SetDefault("global_timeout_ms", int64(5000))
	v.SetDefault("global_max_bytes", int64(1<<20))

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read policy config %s: %w", path, err)
	}

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return Config{}, fmt.Errorf("decode policy config: %w", err)
	}

	cfg := Config{
		DefaultDeny:     raw.DefaultDeny,
		AllowTools:      toSet(raw.AllowTools),
		DenyTools:       toSet(raw.DenyTools),
		GlobalTimeoutMs: raw.GlobalTimeoutMs,
		GlobalMaxBytes:  raw.GlobalMaxBytes,
		PerTool:         make(map[string]ToolPolicy, len(raw.PerTool)),
	}

	for name, rtp := range raw.PerTool {
		tp := ToolPolicy{
			Allow:     rtp.Allow,
			TimeoutMs: rtp.TimeoutMs,
			MaxBytes:  rtp.MaxBytes,
		}
		if len(rtp.ArgAllowlist) > 0 {
			tp.ArgAllowlist = make(map[string]AllowlistValue, len(rtp.ArgAllowlist))
			for key, rawVal := range rtp.ArgAllowlist {
				parsed, err := ParseAllowlistValue(rawVal)
				if err != nil {
					return Config{}, fmt.Errorf("tool %s arg_allowlist.%s: %w", name, key, err)
				}
				tp.ArgAllowlist[key] = parsed
			}
		}
		cfg.PerTool[name] = tp
	}

	return cfg, nil
}

func toSet(names []string) map[string]struct{} {
	out := make(map[string]struct{}, len(names))
	for _, n := range names {
		out[n] = struct{}{}
	}
	return out
}
