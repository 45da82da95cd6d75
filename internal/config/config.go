package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Auth     AuthConfig     `mapstructure:"auth"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port         string   `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	Name           string `mapstructure:"name"`
	SSLMode        string `mapstructure:"sslmode"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

type PipelineConfig struct {
	MinOCRConfidence       float64 `mapstructure:"min_ocr_confidence"`
	MinDetectionConfidence float64 `mapstructure:"min_detection_confidence"`
	NotifyMaxAttempts      int     `mapstructure:"notify_max_attempts"`
	NotifyBackoffBaseMs    int64   `mapstructure:"notify_backoff_base_ms"`
	NotifyBackoffMaxMs     int64   `mapstructure:"notify_backoff_max_ms"`
	RulesFile              string  `mapstructure:"rules_file"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func (d DatabaseConfig) Timeout() time.Duration {
	return time.Duration(d.TimeoutSeconds) * time.Second
}

// Load reads process configuration from an optional config.yaml in the
// working directory plus ANPR_-prefixed environment variables. Loaded once
// at startup; there is no hot reload.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.SetEnvPrefix("ANPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "anpr")
	v.SetDefault("database.password", "anpr")
	v.SetDefault("database.name", "anpr_db")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.timeout_seconds", 5)

	v.SetDefault("auth.jwt_secret", "")

	v.SetDefault("smtp.host", "smtp.gmail.com")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")

	v.SetDefault("pipeline.min_ocr_confidence", 0.70)
	v.SetDefault("pipeline.min_detection_confidence", 0.60)
	v.SetDefault("pipeline.notify_max_attempts", 5)
	v.SetDefault("pipeline.notify_backoff_base_ms", 200)
	v.SetDefault("pipeline.notify_backoff_max_ms", 5000)
	v.SetDefault("pipeline.rules_file", "")

	v.SetDefault("log.level", "info")
}
