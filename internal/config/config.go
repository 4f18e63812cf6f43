package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/dkeye/AvatarCall/internal/domain"
)

var ErrMissingAPIKey = errors.New("provisioning api key is not set (TAVUS_API_KEY or AVATARCALL_PROVISION_API_KEY)")

type Config struct {
	Mode       string        `mapstructure:"mode" validate:"oneof=debug release test"`
	Port       int           `mapstructure:"port" validate:"min=1,max=65535"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit" validate:"gt=0"`
	PingPeriod time.Duration `mapstructure:"ping_period" validate:"gt=0"`
	Secret     string        `mapstructure:"secret" validate:"required"`
	LogLevel   string        `mapstructure:"log_level" validate:"oneof=trace debug info warn error"`
	// JoinLimit join attempts per client within JoinWindow; 0 disables the limit.
	JoinLimit  int           `mapstructure:"join_limit" validate:"gte=0"`
	JoinWindow time.Duration `mapstructure:"join_window" validate:"gt=0"`

	Provision ProvisionConfig `mapstructure:"provision"`
	Transport TransportConfig `mapstructure:"transport"`
}

type ProvisionConfig struct {
	BaseURL   string                `mapstructure:"base_url" validate:"required,url"`
	APIKey    string                `mapstructure:"api_key"`
	ReplicaID string                `mapstructure:"replica_id" validate:"required"`
	Timeout   time.Duration         `mapstructure:"timeout" validate:"gt=0"`
	Persona   domain.PersonaProfile `mapstructure:"persona"`
}

type TransportConfig struct {
	SignalPath   string        `mapstructure:"signal_path" validate:"startswith=/"`
	UserName     string        `mapstructure:"user_name"`
	ICEServers   []string      `mapstructure:"ice_servers"`
	JoinTimeout  time.Duration `mapstructure:"join_timeout" validate:"gt=0"`
	LeaveTimeout time.Duration `mapstructure:"leave_timeout" validate:"gt=0"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "avatarcall-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("join_limit", 5)
	v.SetDefault("join_window", "1m")

	persona := domain.DefaultPersona()
	v.SetDefault("provision.base_url", "https://tavusapi.com/v2")
	v.SetDefault("provision.replica_id", domain.DefaultReplicaID)
	v.SetDefault("provision.timeout", "30s")
	v.SetDefault("provision.persona.name", persona.Name)
	v.SetDefault("provision.persona.default_replica_id", persona.DefaultReplicaID)
	v.SetDefault("provision.persona.system_prompt", persona.SystemPrompt)
	v.SetDefault("provision.persona.context", persona.Context)

	v.SetDefault("transport.signal_path", "/api/ws/signal")
	v.SetDefault("transport.user_name", "Guest")
	v.SetDefault("transport.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("transport.join_timeout", "15s")
	v.SetDefault("transport.leave_timeout", "5s")
}

func flagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("avatarcall", pflag.ContinueOnError)
	fs.String("config", "", "config file (default config/config.<CONFIG_ENV>.yaml)")
	fs.String("mode", "", "gin mode: debug, release or test")
	fs.Int("port", 0, "http listen port")
	fs.String("log-level", "", "log level")
	fs.String("static-path", "", "directory of the web ui")
	return fs
}

// Load layers defaults, the per-environment yaml file, AVATARCALL_* env vars
// and command line flags, in increasing priority.
func Load(args []string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	fs := flagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, flag := range map[string]string{
		"mode":        "mode",
		"port":        "port",
		"log_level":   "log-level",
		"static_path": "static-path",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", flag, err)
		}
	}

	v.SetEnvPrefix("AVATARCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("provision.api_key", "AVATARCALL_PROVISION_API_KEY", "TAVUS_API_KEY"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	fileName, _ := fs.GetString("config")
	if fileName == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		fileName = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(fileName)

	logger := log.With().Str("module", "config").Str("file", fileName).Logger()
	if err := v.ReadInConfig(); err != nil {
		logger.Warn().Err(err).Msg("config file not loaded, using defaults")
	} else {
		logger.Info().Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.Info().
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("static", cfg.StaticPath).
		Str("provision", cfg.Provision.BaseURL).
		Msg("config ready")
	return &cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Provision.APIKey) == "" {
		return ErrMissingAPIKey
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Provision.Persona.Validate(); err != nil {
		return fmt.Errorf("invalid persona: %w", err)
	}
	return nil
}
