package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const (
	KindExpiry = "expiry"
	KindTools  = "tools"
)

type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Dispatcher DispatcherConfig     `mapstructure:"dispatcher"`
	Database   DatabaseConfig       `mapstructure:"database"`
	Telegram   TelegramConfig       `mapstructure:"telegram"`
	Bots       map[string]BotConfig `mapstructure:"bots"`
	PowerMeter PowerMeterConfig     `mapstructure:"power_meter"`
	Log        LogConfig            `mapstructure:"log"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type DispatcherConfig struct {
	Workers int `mapstructure:"workers"`
}

type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TelegramConfig struct {
	APIEndpoint  string `mapstructure:"api_endpoint"`
	FileEndpoint string `mapstructure:"file_endpoint"`
}

// BotConfig describes one tenant. Kind selects the behavior and defaults to
// the tenant name.
type BotConfig struct {
	Kind     string `mapstructure:"kind"`
	Token    string `mapstructure:"token"`
	Secret   string `mapstructure:"secret"`
	NotifyAt string `mapstructure:"notify_at"`
}

type PowerMeterConfig struct {
	FFmpeg    string `mapstructure:"ffmpeg"`
	FFprobe   string `mapstructure:"ffprobe"`
	Width     int    `mapstructure:"width"`
	Height    int    `mapstructure:"height"`
	Intensity int    `mapstructure:"intensity"`
	MinPixels int    `mapstructure:"min_pixels"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	switch u.Scheme {
	case "sqlite", "file":
		path := u.Opaque
		if path == "" {
			path = u.Host + u.Path
		}
		return DatabaseConfig{Driver: "sqlite", Path: path}, nil
	case "postgres", "postgresql":
	default:
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

// LoadConfig reads path if it exists and applies defaults and environment
// overrides. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.addr", ":5000")
	v.SetDefault("dispatcher.workers", 4)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/bots.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("power_meter.ffmpeg", "ffmpeg")
	v.SetDefault("power_meter.ffprobe", "ffprobe")
	v.SetDefault("power_meter.width", 720)
	v.SetDefault("power_meter.height", 1280)
	v.SetDefault("power_meter.intensity", 240)
	v.SetDefault("power_meter.min_pixels", 200)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config %s: %w", path, err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}
	if dbPath := v.GetString("DATABASE_PATH"); dbPath != "" {
		config.Database.Driver = "sqlite"
		config.Database.Path = dbPath
	}
	if apiURL := v.GetString("BOT_API_URL"); apiURL != "" {
		apiURL = strings.TrimRight(apiURL, "/")
		config.Telegram.APIEndpoint = apiURL + "/bot%s/%s"
		config.Telegram.FileEndpoint = apiURL + "/file/bot%s/%s"
	}

	if len(config.Bots) == 0 {
		config.Bots = map[string]BotConfig{
			KindExpiry: {},
			KindTools:  {},
		}
	}
	bots := make(map[string]BotConfig, len(config.Bots))
	for tenant, bot := range config.Bots {
		tenant = strings.ToLower(tenant)
		if bot.Kind == "" {
			bot.Kind = tenant
		}
		bot.Kind = strings.ToLower(bot.Kind)
		if bot.NotifyAt == "" {
			bot.NotifyAt = "10:00"
		}
		prefix := strings.ToUpper(tenant)
		if token := v.GetString(prefix + "_BOT_TOKEN"); token != "" {
			bot.Token = token
		}
		if secret := v.GetString(prefix + "_BOT_SECRET"); secret != "" {
			bot.Secret = secret
		}
		bots[tenant] = bot
	}
	config.Bots = bots

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports the first setting the bots cannot start with.
func (c *Config) Validate() error {
	if c.Dispatcher.Workers < 1 {
		return fmt.Errorf("dispatcher.workers must be at least 1, got %d", c.Dispatcher.Workers)
	}
	switch c.Database.Driver {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}
	if c.PowerMeter.Intensity < 0 || c.PowerMeter.Intensity > 255 {
		return fmt.Errorf("power_meter.intensity must be within 0..255, got %d", c.PowerMeter.Intensity)
	}
	if c.PowerMeter.Width < 1 || c.PowerMeter.Height < 1 {
		return fmt.Errorf("power_meter frame size must be positive, got %dx%d", c.PowerMeter.Width, c.PowerMeter.Height)
	}
	for tenant, bot := range c.Bots {
		if bot.Kind != KindExpiry && bot.Kind != KindTools {
			return fmt.Errorf("bot %s: unknown kind %q", tenant, bot.Kind)
		}
		if bot.Token == "" {
			return fmt.Errorf("bot %s: no token, set %s_BOT_TOKEN", tenant, strings.ToUpper(tenant))
		}
	}
	return nil
}
