package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const VERSION = "1.4"

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Email       EmailConfig
	Geocoder    GeocoderConfig
	Pipeline    PipelineConfig
	Environment string
	LogLevel    string
	Version     string
}

type ServerConfig struct {
	Port int
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds the lib/pq connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type EmailConfig struct {
	// SendGridAPIKey enables live dispatch; empty means dry-run.
	SendGridAPIKey string
	SendGridAPIURL string
	// ReplyDomain enables the tracking Reply-To when the owner has an
	// active inbox connection.
	ReplyDomain    string
	UnsubscribeURL string
	RatingURL      string
}

type GeocoderConfig struct {
	Endpoint string
	APIKey   string
}

type PipelineConfig struct {
	MaxEmailsPerRun       int
	MaxAccountsPerRefresh int
}

// LoadOptions contains options for loading configuration.
type LoadOptions struct {
	EnvFile string // optional environment file, e.g. ".env"
}

// Load loads the configuration with default options.
func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{EnvFile: ".env"})
}

// LoadWithOptions loads the configuration with the specified options.
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_NAME", "insurgrowth")
	v.SetDefault("DB_SSLMODE", "require")
	v.SetDefault("ENVIRONMENT", "production")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("VERSION", VERSION)

	v.SetDefault("SENDGRID_API_URL", "https://api.sendgrid.com/v3/mail/send")
	v.SetDefault("UNSUBSCRIBE_URL", "")
	v.SetDefault("RATING_URL", "")
	v.SetDefault("REPLY_DOMAIN", "")

	v.SetDefault("GEOCODER_URL", "https://maps.googleapis.com/maps/api/geocode/json")
	v.SetDefault("GEOCODER_API_KEY", "")

	v.SetDefault("MAX_EMAILS_PER_RUN", 200)
	v.SetDefault("MAX_ACCOUNTS_PER_REFRESH", 1000)

	if opts.EnvFile != "" {
		v.SetConfigName(opts.EnvFile)
		v.SetConfigType("env")

		currentPath, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error getting current directory: %w", err)
		}
		v.AddConfigPath(currentPath)

		if err := v.ReadInConfig(); err != nil {
			// It's okay if config file doesn't exist
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	config := &Config{
		Server: ServerConfig{
			Port: v.GetInt("SERVER_PORT"),
			Host: v.GetString("SERVER_HOST"),
		},
		Database: DatabaseConfig{
			Host:     v.GetString("DB_HOST"),
			Port:     v.GetInt("DB_PORT"),
			User:     v.GetString("DB_USER"),
			Password: v.GetString("DB_PASSWORD"),
			DBName:   v.GetString("DB_NAME"),
			SSLMode:  v.GetString("DB_SSLMODE"),
		},
		Email: EmailConfig{
			SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
			SendGridAPIURL: v.GetString("SENDGRID_API_URL"),
			ReplyDomain:    v.GetString("REPLY_DOMAIN"),
			UnsubscribeURL: v.GetString("UNSUBSCRIBE_URL"),
			RatingURL:      v.GetString("RATING_URL"),
		},
		Geocoder: GeocoderConfig{
			Endpoint: v.GetString("GEOCODER_URL"),
			APIKey:   v.GetString("GEOCODER_API_KEY"),
		},
		Pipeline: PipelineConfig{
			MaxEmailsPerRun:       v.GetInt("MAX_EMAILS_PER_RUN"),
			MaxAccountsPerRefresh: v.GetInt("MAX_ACCOUNTS_PER_REFRESH"),
		},
		Environment: v.GetString("ENVIRONMENT"),
		LogLevel:    v.GetString("LOG_LEVEL"),
		Version:     v.GetString("VERSION"),
	}

	if config.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	return config, nil
}

// IsDevelopment returns true if the environment is set to development.
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
