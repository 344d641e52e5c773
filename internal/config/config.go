package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds the configuration for the hub.
type Config struct {
	Environment string `mapstructure:"environment"`

	Service struct {
		ID       string `mapstructure:"id"`
		Instance string `mapstructure:"instance"`
		Version  string `mapstructure:"version"`
	} `mapstructure:"service"`

	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`

	DB struct {
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"`
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"sslmode"`
	} `mapstructure:"db"`

	Executor struct {
		URL           string `mapstructure:"url"`
		TimeoutSec    int    `mapstructure:"timeout_sec"`
		MaxParallel   int    `mapstructure:"max_parallel"`
		GlobalWorkers int    `mapstructure:"global_workers"`
	} `mapstructure:"executor"`

	Bus struct {
		BufferSize int `mapstructure:"buffer_size"`
	} `mapstructure:"bus"`

	Auth struct {
		OktaDomain    string `mapstructure:"okta_domain"`
		ClientID      string `mapstructure:"client_id"`
		ClientSecret  string `mapstructure:"client_secret"`
		RedirectURL   string `mapstructure:"redirect_url"`
		DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	} `mapstructure:"auth"`

	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
}

// LoadConfig loads the configuration from a file and the environment.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine; defaults plus env cover it.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Normalize the OIDC issuer url (strip trailing slash if any) so users
	// can paste the full URL from the admin console.
	config.Auth.OktaDomain = normalizeIssuer(config.Auth.OktaDomain)

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("environment", "dev")
	viper.SetDefault("service.id", "hub")
	viper.SetDefault("service.instance", "hub-0")
	viper.SetDefault("service.version", "1.0.0")
	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", 5432)
	viper.SetDefault("db.sslmode", "disable")
	viper.SetDefault("executor.timeout_sec", 120)
	viper.SetDefault("executor.max_parallel", 4)
	viper.SetDefault("executor.global_workers", 16)
	viper.SetDefault("bus.buffer_size", 256)
	viper.SetDefault("auth.dev_mode_bypass", true)
}

func normalizeIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if strings.HasSuffix(iss, "/") {
		iss = strings.TrimRight(iss, "/")
	}
	return iss
}
