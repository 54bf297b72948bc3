// Package config loads the CLI settings from .shaolinq.yaml, the environment and .env files.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

var AppFs = afero.NewOsFs()

// FileName is the config file name without extension.
const FileName = ".shaolinq"

// Config holds the application configuration
type Config struct {
	ModelPath     string `mapstructure:"model_path"`
	Dialect       string `mapstructure:"dialect"`
	ServerVersion string `mapstructure:"server_version"`
	Driver        string `mapstructure:"driver"`
	DatabaseURL   string `mapstructure:"database_url"`
	Listen        string `mapstructure:"listen"`
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	ShapeCache    int    `mapstructure:"shape_cache"`
	StmtCache     int    `mapstructure:"statement_cache"`
}

// New returns a viper instance with the search paths, environment binding and defaults set.
func New() (*viper.Viper, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetFs(AppFs)
	v.SetConfigName(FileName)
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath(home)
	v.AddConfigPath(filepath.Join(home, ".config", "shaolinq"))

	v.SetEnvPrefix("SHAOLINQ")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	// DATABASE_URL is honoured without the prefix
	if err := v.BindEnv("database_url", "SHAOLINQ_DATABASE_URL", "DATABASE_URL"); err != nil {
		return nil, err
	}

	v.SetDefault("model_path", "model.yaml")
	v.SetDefault("dialect", "generic-92")
	v.SetDefault("driver", "sqlite")
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("shape_cache", 512)
	v.SetDefault("statement_cache", 128)
	return v, nil
}

// LoadConfig loads configuration from various sources
func LoadConfig(v *viper.Viper) (*Config, error) {
	loadDotEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// loadDotEnv loads .env and then .env.local, the latter overriding. Missing files are ignored.
func loadDotEnv() {
	if _, err := AppFs.Stat(".env"); err == nil {
		_ = godotenv.Load()
	}
	if _, err := AppFs.Stat(".env.local"); err == nil {
		_ = godotenv.Overload(".env.local")
	}
}

// SaveConfig writes cfg to path, or to ./.shaolinq.yaml when path is empty.
func SaveConfig(cfg *Config, path string) error {
	if path == "" {
		path = FileName + ".yaml"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := AppFs.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	v := viper.New()
	v.SetFs(AppFs)
	v.Set("model_path", cfg.ModelPath)
	v.Set("dialect", cfg.Dialect)
	v.Set("driver", cfg.Driver)
	if cfg.ServerVersion != "" {
		v.Set("server_version", cfg.ServerVersion)
	}
	if cfg.DatabaseURL != "" {
		v.Set("database_url", cfg.DatabaseURL)
	}
	if cfg.Listen != "" {
		v.Set("listen", cfg.Listen)
	}
	return v.WriteConfigAs(path)
}
