package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/arkadian/voicelounge/internal/platform"
)

// Config represents the runtime configuration for the voicelounge bot.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Gateway     GatewayConfig     `mapstructure:"gateway"`
	Voice       VoiceConfig       `mapstructure:"voice"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// GatewayConfig points at the platform event gateway and its REST API.
type GatewayConfig struct {
	URL     string        `mapstructure:"url"`
	APIURL  string        `mapstructure:"api_url"`
	Token   string        `mapstructure:"token"`
	GuildID int64         `mapstructure:"guild_id"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// VoiceConfig drives the channel lifecycle and permission components.
type VoiceConfig struct {
	CreationChannels  []int64          `mapstructure:"creation_channels"`
	ManagedCategories []int64          `mapstructure:"managed_categories"`
	AFKChannelID      int64            `mapstructure:"afk_channel_id"`
	DeletionGrace     time.Duration    `mapstructure:"deletion_grace"`
	AutoKickPause     time.Duration    `mapstructure:"autokick_pause"`
	AutoKickQueueSize int              `mapstructure:"autokick_queue_size"`
	MuteRoles         []MuteRoleConfig `mapstructure:"mute_roles"`
	Tiers             []TierConfig     `mapstructure:"tiers"`
}

// MuteRoleConfig denies a set of named permissions to one guild role on
// every spawned channel.
type MuteRoleConfig struct {
	RoleID int64    `mapstructure:"role_id"`
	Deny   []string `mapstructure:"deny"`
}

// TierConfig maps a subscription role name to its moderator and autokick
// limits. The slice is ordered highest tier first; the first matching role
// wins.
type TierConfig struct {
	Name       string `mapstructure:"name"`
	Moderators int    `mapstructure:"moderators"`
	AutoKicks  int    `mapstructure:"autokicks"`
}

// MaintenanceConfig controls the background sweeper.
type MaintenanceConfig struct {
	SweepSchedule    string `mapstructure:"sweep_schedule"`
	KickLogRetention int    `mapstructure:"kick_log_retention_days"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("VOICELOUNGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

// Validate rejects configurations the voice core cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	if strings.TrimSpace(c.Gateway.Token) == "" {
		return errors.New("gateway.token must be configured")
	}
	if c.Gateway.GuildID == 0 {
		return errors.New("gateway.guild_id must be configured")
	}
	if len(c.Voice.CreationChannels) == 0 {
		return errors.New("voice.creation_channels must list at least one channel")
	}
	if c.Voice.DeletionGrace <= 0 {
		return errors.New("voice.deletion_grace must be positive")
	}

	for _, tier := range c.Voice.Tiers {
		if strings.TrimSpace(tier.Name) == "" {
			return errors.New("voice.tiers entries require a role name")
		}
		if tier.Moderators < 0 || tier.AutoKicks < 0 {
			return fmt.Errorf("voice.tiers %q: limits must not be negative", tier.Name)
		}
	}

	for _, mute := range c.Voice.MuteRoles {
		if mute.RoleID == 0 {
			return errors.New("voice.mute_roles entries require a role id")
		}
		for _, name := range mute.Deny {
			if _, ok := platform.LookupPermission(name); !ok {
				return fmt.Errorf("voice.mute_roles role %d: unknown permission %q", mute.RoleID, name)
			}
		}
	}

	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8300)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/voicelounge.sqlite")

	v.SetDefault("gateway.url", "wss://gateway.example.invalid/v1")
	v.SetDefault("gateway.api_url", "https://api.example.invalid/v1")
	v.SetDefault("gateway.timeout", "30s")

	v.SetDefault("voice.deletion_grace", "5s")
	v.SetDefault("voice.autokick_pause", "250ms")
	v.SetDefault("voice.autokick_queue_size", 4096)

	v.SetDefault("maintenance.sweep_schedule", "@hourly")
	v.SetDefault("maintenance.kick_log_retention_days", 30)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
