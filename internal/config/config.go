package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all server configuration, loaded from the environment with an
// optional .env file.
type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDB     string `mapstructure:"MONGO_DB"`
	RedisAddr   string `mapstructure:"REDIS_ADDR"`
	JWTSecret   string `mapstructure:"JWT_SECRET"`
	MediaWsURL  string `mapstructure:"MEDIA_WS_URL"`
	MediaDir    string `mapstructure:"MEDIA_DIR"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("MONGO_DB", "carelink")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("MEDIA_WS_URL", "wss://media.localhost/rtc")
	v.SetDefault("MEDIA_DIR", "./media")
	v.SetDefault("CORS_ORIGINS", "*")

	for _, key := range []string{
		"PORT", "ENV", "MONGO_URI", "MONGO_DB", "REDIS_ADDR",
		"JWT_SECRET", "MEDIA_WS_URL", "MEDIA_DIR", "CORS_ORIGINS",
	} {
		v.BindEnv(key)
	}

	// The .env file is optional.
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.JWTSecret == "" {
		if cfg.Env != "development" {
			return nil, fmt.Errorf("JWT_SECRET is required outside development")
		}
		cfg.JWTSecret = "dev-secret-change-me"
	}
	return cfg, nil
}

// IsDev reports whether the server runs in development mode.
func (c *Config) IsDev() bool { return c.Env == "development" }
