package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Chat      ChatConfig
	RateLimit RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds the postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode)
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	MinIdleConns int
}

type ChatConfig struct {
	// HistoryCacheSize caps the redis-mirrored recent-message list.
	HistoryCacheSize int
}

type RateLimitConfig struct {
	// Upgrades per window allowed per client IP on the websocket endpoint.
	Requests int
	Window   time.Duration
}

func LoadConfig() (*Config, error) {
	viper.SetDefault("CHAT_HOST", "")
	viper.SetDefault("CHAT_PORT", "5000")
	viper.SetDefault("CHAT_READ_TIMEOUT", 30*time.Second)
	viper.SetDefault("CHAT_WRITE_TIMEOUT", 30*time.Second)
	viper.SetDefault("CHAT_IDLE_TIMEOUT", 60*time.Second)
	viper.SetDefault("CHAT_HISTORY_CACHE_SIZE", 100)
	viper.SetDefault("CHAT_RATE_LIMIT_REQUESTS", 10)
	viper.SetDefault("CHAT_RATE_LIMIT_WINDOW", time.Minute)
	viper.SetDefault("POSTGRES_HOST", "localhost")
	viper.SetDefault("POSTGRES_PORT", "5432")
	viper.SetDefault("POSTGRES_USER", "postgres")
	viper.SetDefault("POSTGRES_PASSWORD", "12345")
	viper.SetDefault("POSTGRES_DB", "ChatApp")
	viper.SetDefault("POSTGRES_SSLMODE", "disable")
	viper.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	viper.SetDefault("REDIS_PASSWORD", "")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("REDIS_MAX_RETRIES", 3)
	viper.SetDefault("REDIS_DIAL_TIMEOUT", 5*time.Second)
	viper.SetDefault("REDIS_READ_TIMEOUT", 3*time.Second)
	viper.SetDefault("REDIS_WRITE_TIMEOUT", 3*time.Second)
	viper.SetDefault("REDIS_POOL_SIZE", 100)
	viper.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	viper.AutomaticEnv()

	return &Config{
		Server: ServerConfig{
			Host:         viper.GetString("CHAT_HOST"),
			Port:         viper.GetString("CHAT_PORT"),
			ReadTimeout:  viper.GetDuration("CHAT_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("CHAT_WRITE_TIMEOUT"),
			IdleTimeout:  viper.GetDuration("CHAT_IDLE_TIMEOUT"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("POSTGRES_HOST"),
			Port:     viper.GetString("POSTGRES_PORT"),
			User:     viper.GetString("POSTGRES_USER"),
			Password: viper.GetString("POSTGRES_PASSWORD"),
			DBName:   viper.GetString("POSTGRES_DB"),
			SSLMode:  viper.GetString("POSTGRES_SSLMODE"),
		},
		Redis: RedisConfig{
			Addr:         viper.GetString("REDIS_ADDR"),
			Password:     viper.GetString("REDIS_PASSWORD"),
			DB:           viper.GetInt("REDIS_DB"),
			MaxRetries:   viper.GetInt("REDIS_MAX_RETRIES"),
			DialTimeout:  viper.GetDuration("REDIS_DIAL_TIMEOUT"),
			ReadTimeout:  viper.GetDuration("REDIS_READ_TIMEOUT"),
			WriteTimeout: viper.GetDuration("REDIS_WRITE_TIMEOUT"),
			PoolSize:     viper.GetInt("REDIS_POOL_SIZE"),
			MinIdleConns: viper.GetInt("REDIS_MIN_IDLE_CONNS"),
		},
		Chat: ChatConfig{
			HistoryCacheSize: viper.GetInt("CHAT_HISTORY_CACHE_SIZE"),
		},
		RateLimit: RateLimitConfig{
			Requests: viper.GetInt("CHAT_RATE_LIMIT_REQUESTS"),
			Window:   viper.GetDuration("CHAT_RATE_LIMIT_WINDOW"),
		},
	}, nil
}
