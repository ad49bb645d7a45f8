package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// Config est la structure principale de configuration de l'application
type Config struct {
	LogLevel string         `mapstructure:"log_level"`
	API      *APIConfig     `mapstructure:"api"`
	Database *DatabaseConfig `mapstructure:"database"`
	Redis    *RedisConfig   `mapstructure:"redis"`
	PriceAPI *PriceAPIConfig `mapstructure:"price_api"`
	Sessions []SessionConfig `mapstructure:"sessions"`
	Tenant   *TenantDefaults `mapstructure:"tenant_defaults"`
	Alerting *AlertingConfig `mapstructure:"alerting"`
	Retention int            `mapstructure:"retention_hours"`
}

// APIConfig contient la configuration du serveur API
type APIConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	ReadTimeout    int    `mapstructure:"read_timeout"`
	WriteTimeout   int    `mapstructure:"write_timeout"`
	MaxHeaderBytes int    `mapstructure:"max_header_bytes"`
}

// DatabaseConfig contient la configuration de la base de données
type DatabaseConfig struct {
	Host              string `mapstructure:"host"`
	Port              int    `mapstructure:"port"`
	User              string `mapstructure:"user"`
	Password          string `mapstructure:"password"`
	Name              string `mapstructure:"name"`
	SSLMode           string `mapstructure:"ssl_mode"`
	MaxConnections    int    `mapstructure:"max_connections"`
	MinConnections    int    `mapstructure:"min_connections"`
	MaxConnLifetime   int    `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   int    `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod int    `mapstructure:"health_check_period"`
}

// RedisConfig contient la configuration de Redis
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// PriceAPIConfig configures the default PriceHistoryClient adapter.
type PriceAPIConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	RequestTimeout int    `mapstructure:"request_timeout"`
	RateLimitRPS   int    `mapstructure:"rate_limit_rps"`
}

// SessionConfig is one upstream tracker-source session's credentials.
type SessionConfig struct {
	ID       string `mapstructure:"id"`
	AppID    int    `mapstructure:"app_id"`
	AppHash  string `mapstructure:"app_hash"`
	BotToken string `mapstructure:"bot_token"`
	Phone    string `mapstructure:"phone"`
}

// TenantDefaults are the env-configured defaults applied to new tenants.
type TenantDefaults struct {
	MinWallets    int `mapstructure:"min_wallets"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AlertingConfig configures the default Telegram-based AlertSink.
type AlertingConfig struct {
	BotToken     string           `mapstructure:"bot_token"`
	ChatMappings map[string]int64 `mapstructure:"chat_mappings"`
}

// Load charge la configuration à partir d'un fichier
func Load() (*Config, error) {
	// Régler les valeurs par défaut
	setDefaults()

	// Déterminer l'environnement
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	// Configurer Viper
	viper.SetConfigName("config")             // nom du fichier de configuration
	viper.SetConfigType("yaml")               // format du fichier de configuration
	viper.AddConfigPath(".")                  // chercher dans le répertoire courant
	viper.AddConfigPath("./config")           // chercher dans ./config
	viper.AddConfigPath("../config")          // chercher dans ../config
	viper.AddConfigPath("/etc/confluence-oracle") // chercher dans /etc/confluence-oracle

	// Permettre la surcharge par les variables d'environnement
	viper.SetEnvPrefix("CONFLUENCE")
	viper.AutomaticEnv()

	// Lire la configuration
	if err := viper.ReadInConfig(); err != nil {
		// Si le fichier de configuration n'existe pas, c'est OK, on utilise les valeurs par défaut
		// et les variables d'environnement
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("erreur lors de la lecture du fichier de configuration: %w", err)
		}
	}

	// Charger la configuration spécifique à l'environnement
	envConfigFile := fmt.Sprintf("config.%s", env)
	viper.SetConfigName(envConfigFile)
	if err := viper.MergeInConfig(); err != nil {
		// Ignorer si le fichier spécifique à l'environnement n'existe pas
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("erreur lors de la lecture du fichier de configuration d'environnement: %w", err)
		}
	}

	// Charger la configuration dans la structure
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("impossible de décoder la configuration: %w", err)
	}

	return &config, nil
}

// setDefaults définit les valeurs par défaut pour la configuration
func setDefaults() {
	// Valeurs par défaut générales
	viper.SetDefault("log_level", "info")
	viper.SetDefault("retention_hours", 48)

	// Valeurs par défaut pour l'API
	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.read_timeout", 30)
	viper.SetDefault("api.write_timeout", 30)
	viper.SetDefault("api.max_header_bytes", 1048576) // 1MB

	// Valeurs par défaut pour la base de données
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.name", "confluence_oracle")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_connections", 20)
	viper.SetDefault("database.min_connections", 5)
	viper.SetDefault("database.max_conn_lifetime", 3600)
	viper.SetDefault("database.max_conn_idle_time", 1800)
	viper.SetDefault("database.health_check_period", 60)

	// Valeurs par défaut pour Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Valeurs par défaut pour l'API de prix
	viper.SetDefault("price_api.base_url", "https://gmgn.ai")
	viper.SetDefault("price_api.request_timeout", 15)
	viper.SetDefault("price_api.rate_limit_rps", 5)

	// Valeurs par défaut pour les tenants
	viper.SetDefault("tenant_defaults.min_wallets", 2)
	viper.SetDefault("tenant_defaults.window_minutes", 1440)
}
