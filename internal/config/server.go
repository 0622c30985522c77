package config

import (
	"errors"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig is the registry server configuration.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	AdminToken string `mapstructure:"admin_token"`

	TLSCertFile     string `mapstructure:"tls_cert_file"`
	TLSKeyFile      string `mapstructure:"tls_key_file"`
	TLSClientCAFile string `mapstructure:"tls_client_ca_file"`

	DatabaseDriver       string `mapstructure:"database_driver"`
	DatabaseDSN          string `mapstructure:"database_dsn"`
	DatabaseMaxOpenConns int    `mapstructure:"database_max_open_conns"`

	ReadTimeoutSeconds     int `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int `mapstructure:"max_body_bytes"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

func DefaultServer() *ServerConfig {
	return &ServerConfig{
		ListenAddr:             ":8000",
		DatabaseDriver:         "postgres",
		DatabaseMaxOpenConns:   20,
		ReadTimeoutSeconds:     30,
		WriteTimeoutSeconds:    60,
		ShutdownTimeoutSeconds: 15,
		MaxBodyBytes:           16 << 20,
		LogLevel:               "info",
		LogFormat:              "text",
		LogMaxSizeMB:           50,
		LogMaxBackups:          3,
	}
}

// LoadServer reads .env (if present), then the server config file, then
// INVENTORY_* environment overrides.
func LoadServer(cfgFile string) (*ServerConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := DefaultServer()
	v := newViper("INVENTORY")
	v.SetDefault("listen_addr", cfg.ListenAddr)
	v.SetDefault("admin_token", cfg.AdminToken)
	v.SetDefault("tls_cert_file", cfg.TLSCertFile)
	v.SetDefault("tls_key_file", cfg.TLSKeyFile)
	v.SetDefault("tls_client_ca_file", cfg.TLSClientCAFile)
	v.SetDefault("database_driver", cfg.DatabaseDriver)
	v.SetDefault("database_dsn", cfg.DatabaseDSN)
	v.SetDefault("database_max_open_conns", cfg.DatabaseMaxOpenConns)
	v.SetDefault("read_timeout_seconds", cfg.ReadTimeoutSeconds)
	v.SetDefault("write_timeout_seconds", cfg.WriteTimeoutSeconds)
	v.SetDefault("shutdown_timeout_seconds", cfg.ShutdownTimeoutSeconds)
	v.SetDefault("max_body_bytes", cfg.MaxBodyBytes)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("server")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
