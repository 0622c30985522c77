package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"
)

// Config is the agent configuration.
type Config struct {
	ServerURL    string `mapstructure:"server_url"`
	EndpointUUID string `mapstructure:"endpoint_uuid"`
	EndpointName string `mapstructure:"endpoint_name"`
	DataDir      string `mapstructure:"data_dir"`

	TLSCAFile   string `mapstructure:"tls_ca_file"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	FastIntervalSeconds      int      `mapstructure:"fast_interval_seconds"`
	SlowIntervalSeconds      int      `mapstructure:"slow_interval_seconds"`
	TaskFetchIntervalSeconds int      `mapstructure:"task_fetch_interval_seconds"`
	TaskRunIntervalSeconds   int      `mapstructure:"task_run_interval_seconds"`
	EnabledCollectors        []string `mapstructure:"enabled_collectors"`

	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	AuditEnabled    bool `mapstructure:"audit_enabled"`
	AuditMaxSizeMB  int  `mapstructure:"audit_max_size_mb"`
	AuditMaxBackups int  `mapstructure:"audit_max_backups"`
}

func Default() *Config {
	return &Config{
		FastIntervalSeconds:      60,
		SlowIntervalSeconds:      300,
		TaskFetchIntervalSeconds: 60,
		TaskRunIntervalSeconds:   60,
		EnabledCollectors:        []string{"os", "hardware", "profiles", "software", "volumes", "licenses", "battery"},
		LogLevel:                 "info",
		LogFormat:                "text",
		LogMaxSizeMB:             50,
		LogMaxBackups:            3,
		AuditEnabled:             true,
		AuditMaxSizeMB:           50,
		AuditMaxBackups:          3,
	}
}

// Load reads the agent config file (or the default location) and applies
// INVENTORY_* environment overrides.
func Load(cfgFile string) (*Config, error) {
	cfg := Default()
	v := newViper("INVENTORY")
	setAgentDefaults(v, cfg)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("agent")
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

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

// SaveTo writes the persistent subset of the config. The endpoint UUID lives
// here so it survives agent restarts and reinstall-in-place.
func SaveTo(cfg *Config, cfgFile string) error {
	v := viper.New()
	v.Set("server_url", cfg.ServerURL)
	v.Set("endpoint_uuid", cfg.EndpointUUID)
	v.Set("endpoint_name", cfg.EndpointName)
	v.Set("data_dir", cfg.DataDir)
	v.Set("tls_ca_file", cfg.TLSCAFile)
	v.Set("tls_cert_file", cfg.TLSCertFile)
	v.Set("tls_key_file", cfg.TLSKeyFile)
	v.Set("fast_interval_seconds", cfg.FastIntervalSeconds)
	v.Set("slow_interval_seconds", cfg.SlowIntervalSeconds)
	v.Set("task_fetch_interval_seconds", cfg.TaskFetchIntervalSeconds)
	v.Set("task_run_interval_seconds", cfg.TaskRunIntervalSeconds)
	v.Set("enabled_collectors", cfg.EnabledCollectors)
	v.Set("log_level", cfg.LogLevel)
	v.Set("log_format", cfg.LogFormat)
	v.Set("log_file", cfg.LogFile)
	v.Set("audit_enabled", cfg.AuditEnabled)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "agent.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := v.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

// GetDataDir returns the directory for the local task queue and audit log.
func (c *Config) GetDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Inventory", "data")
	case "darwin":
		return "/Library/Application Support/Inventory/data"
	default:
		return "/var/lib/inventory"
	}
}

// setAgentDefaults registers every key with viper so INVENTORY_* variables
// override values even when the config file omits them.
func setAgentDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server_url", cfg.ServerURL)
	v.SetDefault("endpoint_uuid", cfg.EndpointUUID)
	v.SetDefault("endpoint_name", cfg.EndpointName)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("tls_ca_file", cfg.TLSCAFile)
	v.SetDefault("tls_cert_file", cfg.TLSCertFile)
	v.SetDefault("tls_key_file", cfg.TLSKeyFile)
	v.SetDefault("fast_interval_seconds", cfg.FastIntervalSeconds)
	v.SetDefault("slow_interval_seconds", cfg.SlowIntervalSeconds)
	v.SetDefault("task_fetch_interval_seconds", cfg.TaskFetchIntervalSeconds)
	v.SetDefault("task_run_interval_seconds", cfg.TaskRunIntervalSeconds)
	v.SetDefault("enabled_collectors", cfg.EnabledCollectors)
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("log_file", cfg.LogFile)
	v.SetDefault("log_max_size_mb", cfg.LogMaxSizeMB)
	v.SetDefault("log_max_backups", cfg.LogMaxBackups)
	v.SetDefault("audit_enabled", cfg.AuditEnabled)
	v.SetDefault("audit_max_size_mb", cfg.AuditMaxSizeMB)
	v.SetDefault("audit_max_backups", cfg.AuditMaxBackups)
}

func newViper(envPrefix string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "Inventory")
	case "darwin":
		return "/Library/Application Support/Inventory"
	default:
		return "/etc/inventory"
	}
}
