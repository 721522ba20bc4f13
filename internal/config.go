package internal

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server        ServerConfig        `mapstructure:"http_server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Mpesa         MpesaConfig         `mapstructure:"mpesa"`
	Tuya          TuyaConfig          `mapstructure:"tuya"`
	Settlement    SettlementConfig    `mapstructure:"settlement"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	BaseURL           string        `mapstructure:"base_url"`
	AllowedOrigins    string        `mapstructure:"allowed_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	MaxOpenConns    int           `mapstructure:"max_open_conns" validate:"required,min=1"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"required,min=1"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" validate:"required,min=1m"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time" validate:"required,min=1m"`
	Source          string        `mapstructure:"source"`
}

// MpesaConfig holds the Daraja push-payment gateway credentials.
type MpesaConfig struct {
	BaseURL        string `mapstructure:"base_url" validate:"required,url"`
	ConsumerKey    string `mapstructure:"consumer_key" validate:"required"`
	ConsumerSecret string `mapstructure:"consumer_secret" validate:"required"`
	ShortCode      string `mapstructure:"short_code" validate:"required"`
	Passkey        string `mapstructure:"passkey" validate:"required"`
	CallbackURL    string `mapstructure:"callback_url" validate:"required,url"`
	CountryCode    string `mapstructure:"country_code"`
}

// TuyaConfig holds the cloud device-control API credentials.
type TuyaConfig struct {
	BaseURL      string `mapstructure:"base_url" validate:"required,url"`
	ClientID     string `mapstructure:"client_id" validate:"required"`
	ClientSecret string `mapstructure:"client_secret" validate:"required"`
}

type SettlementConfig struct {
	MaxInitiateRetries int           `mapstructure:"max_initiate_retries"`
	ResolutionTimeout  time.Duration `mapstructure:"resolution_timeout"`
	PollBaseWait       time.Duration `mapstructure:"poll_base_wait"`
	PollMaxWait        time.Duration `mapstructure:"poll_max_wait"`
	ReaperTimeoutMins  int           `mapstructure:"reaper_timeout_minutes"`
	ReaperSchedule     string        `mapstructure:"reaper_schedule"`
}

type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"required,oneof=json text"`
}

// ----------------- HELPERS -----------------

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultVal
}

// LoadConfigFromEnv builds the configuration from environment variables,
// used for container deployments where no config file is mounted.
func LoadConfigFromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			BaseURL:           getEnv("SERVER_BASE_URL", "http://localhost:8080"),
			AllowedOrigins:    getEnv("SERVER_ALLOWED_ORIGINS", "*"),
			ReadHeaderTimeout: getEnvAsDuration("SERVER_READ_HEADER_TIMEOUT", 5*time.Second),
			ReadTimeout:       getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			IdleTimeout:       getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			WriteTimeout:      getEnvAsDuration("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvAsDuration("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
			Source:          getEnv("DB_SOURCE", ""),
		},
		Mpesa: MpesaConfig{
			BaseURL:        getEnv("MPESA_BASE_URL", "https://sandbox.safaricom.co.ke"),
			ConsumerKey:    getEnv("MPESA_CONSUMER_KEY", ""),
			ConsumerSecret: getEnv("MPESA_CONSUMER_SECRET", ""),
			ShortCode:      getEnv("MPESA_SHORT_CODE", ""),
			Passkey:        getEnv("MPESA_PASSKEY", ""),
			CallbackURL:    getEnv("MPESA_CALLBACK_URL", ""),
			CountryCode:    getEnv("MPESA_COUNTRY_CODE", "254"),
		},
		Tuya: TuyaConfig{
			BaseURL:      getEnv("TUYA_BASE_URL", "https://openapi.tuyaeu.com"),
			ClientID:     getEnv("TUYA_CLIENT_ID", ""),
			ClientSecret: getEnv("TUYA_CLIENT_SECRET", ""),
		},
		Settlement: SettlementConfig{
			MaxInitiateRetries: getEnvAsInt("SETTLEMENT_MAX_INITIATE_RETRIES", 3),
			ResolutionTimeout:  getEnvAsDuration("SETTLEMENT_RESOLUTION_TIMEOUT", 60*time.Second),
			PollBaseWait:       getEnvAsDuration("SETTLEMENT_POLL_BASE_WAIT", 3*time.Second),
			PollMaxWait:        getEnvAsDuration("SETTLEMENT_POLL_MAX_WAIT", 10*time.Second),
			ReaperTimeoutMins:  getEnvAsInt("SETTLEMENT_REAPER_TIMEOUT_MINUTES", 10),
			ReaperSchedule:     getEnv("SETTLEMENT_REAPER_SCHEDULE", "@every 5m"),
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
		},
	}
}

// ----------------- VALIDATION -----------------

func (c *Config) Validate() error {
	var errs []string

	if err := c.Server.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("server config: %v", err))
	}

	if err := c.Database.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("database config: %v", err))
	}

	if err := c.Mpesa.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("mpesa config: %v", err))
	}

	if err := c.Tuya.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("tuya config: %v", err))
	}

	if err := c.Settlement.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("settlement config: %v", err))
	}

	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}

	return nil
}

func (c *ServerConfig) Validate() error {
	if c.AllowedOrigins != "" {
		origins := strings.Split(c.AllowedOrigins, ",")
		for _, origin := range origins {
			origin = strings.TrimSpace(origin)
			if origin == "*" {
				continue
			}
			if _, err := url.Parse(origin); err != nil {
				return fmt.Errorf("invalid allowed origin %s: %w", origin, err)
			}
		}
	}
	if c.ReadTimeout < c.ReadHeaderTimeout {
		return errors.New("read_timeout must be >= read_header_timeout")
	}
	return nil
}

func (c *DatabaseConfig) Validate() error {
	if c.MaxIdleConns > c.MaxOpenConns {
		return errors.New("max_idle_conns cannot be greater than max_open_conns")
	}
	return nil
}

func (c *DatabaseConfig) GetDSN() string {
	return c.Source
}

func (c *MpesaConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.ConsumerKey == "" || c.ConsumerSecret == "" {
		return errors.New("consumer credentials are required")
	}
	if c.ShortCode == "" || c.Passkey == "" {
		return errors.New("short_code and passkey are required")
	}
	if c.CallbackURL == "" {
		return errors.New("callback_url is required")
	}
	return nil
}

func (c *TuyaConfig) Validate() error {
	if c.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if c.ClientID == "" || c.ClientSecret == "" {
		return errors.New("client credentials are required")
	}
	return nil
}

func (c *SettlementConfig) Validate() error {
	if c.MaxInitiateRetries < 1 {
		return errors.New("max_initiate_retries must be at least 1")
	}
	if c.PollBaseWait <= 0 || c.PollMaxWait < c.PollBaseWait {
		return errors.New("poll_max_wait must be >= poll_base_wait")
	}
	if c.ReaperTimeoutMins < 1 {
		return errors.New("reaper_timeout_minutes must be at least 1")
	}
	return nil
}
