package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"polo-lending-bot/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig             `mapstructure:"app"`
	Logging   logging.Config        `mapstructure:"logging"`
	Database  DatabaseConfig        `mapstructure:"database"`
	Exchange  ExchangeConfig        `mapstructure:"exchange"`
	Intervals IntervalsConfig       `mapstructure:"intervals"`
	Alerting  AlertingConfig        `mapstructure:"alerting"`
	Export    ExportConfig          `mapstructure:"export"`
	Lending   map[string]CoinPolicy `mapstructure:"lending"`

	// SourceFile records which settings file was read, for change watching.
	SourceFile string `mapstructure:"-"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates optional PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// ExchangeConfig covers exchange API access and authentication state.
type ExchangeConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	Key                string        `mapstructure:"key"`
	Secret             string        `mapstructure:"secret"`
	NonceFile          string        `mapstructure:"nonce_file"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	MinRequestInterval time.Duration `mapstructure:"min_request_interval"`
}

// IntervalsConfig governs the control loop cadences.
type IntervalsConfig struct {
	Warmup      time.Duration `mapstructure:"warmup"`
	StatsSample time.Duration `mapstructure:"stats_sample"`
	Reoffer     time.Duration `mapstructure:"reoffer"`
}

// AlertingConfig defines cycle-report routing.
type AlertingConfig struct {
	Enabled  bool           `mapstructure:"enabled"`
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig 描述 Telegram 通知参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LENDBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.SourceFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "lendbot")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("exchange.base_url", "https://poloniex.com")
	v.SetDefault("exchange.nonce_file", "nonce.txt")
	v.SetDefault("exchange.request_timeout", "30s")
	v.SetDefault("exchange.min_request_interval", "166ms")

	v.SetDefault("intervals.warmup", "60s")
	v.SetDefault("intervals.stats_sample", "10s")
	v.SetDefault("intervals.reoffer", "60s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
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

// Validate performs sanity checks on global values and every per-currency
// policy. Policy violations are fatal: the bot must not start lending under
// an invalid policy.
func (c *Config) Validate() error {
	if err := validateInterval("intervals.warmup", c.Intervals.Warmup, time.Second, 24*time.Hour); err != nil {
		return err
	}
	if err := validateInterval("intervals.stats_sample", c.Intervals.StatsSample, time.Second, time.Hour); err != nil {
		return err
	}
	if err := validateInterval("intervals.reoffer", c.Intervals.Reoffer, time.Second, time.Hour); err != nil {
		return err
	}

	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}

	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}

	for currency, policy := range c.Lending {
		if _, err := policy.Parse(); err != nil {
			return fmt.Errorf("lending.%s: %w", currency, err)
		}
	}

	return nil
}

func validateInterval(name string, value, min, max time.Duration) error {
	if value < min || value > max {
		return fmt.Errorf("%s(%s) valid range is [%s, %s]", name, value, min, max)
	}
	return nil
}

// RequireCredentials checks the API key pair is present. Commands that
// only touch public endpoints or local state skip this.
func (c *Config) RequireCredentials() error {
	if c.Exchange.Key == "" || c.Exchange.Secret == "" {
		return fmt.Errorf("exchange.key and exchange.secret must be set")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
