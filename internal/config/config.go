// Package config loads the trading core's configuration from the
// environment using viper, following the shape the teacher project's
// (go-chi + pgxpool) services expect: a ServerConfig per HTTP-exposing
// service and a single DatabaseConfig for the shared store.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig configures one service's HTTP listener.
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig configures the shared relational store connection.
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	SSLMode     string
	MaxConns    int
	MinConns    int
	MaxConnLife time.Duration
}

func (c DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// MarketConfig holds market-wide simulation parameters (§6 Configuration).
type MarketConfig struct {
	InitialStocks     []InitialStock
	PriceVolatility   float64 // default 0.001 (§4.3)
	MarketOpenHour    int
	MarketCloseHour   int
	WebhookQueueSize  int // event bus per-subscriber buffer, default 1024 (§4.5)
}

// InitialStock is one entry parsed from INITIAL_STOCKS = "SYM:PRICE:NAME,...".
type InitialStock struct {
	Symbol string
	Price  float64
	Name   string
}

// Config aggregates everything a cmd/* binary needs to boot.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Market   MarketConfig
	LogLevel string
}

// Load reads configuration from the environment (all keys optional, with
// sensible defaults), matching §6's "Configuration (env, all optional)".
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "tradingcore")
	v.SetDefault("database.user", "tradingcore")
	v.SetDefault("database.password", "tradingcore")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_life", 30*time.Minute)

	v.SetDefault("market.initial_stocks", "AAPL:150.00:Apple Inc.,MSFT:300.00:Microsoft Corp.,GOOG:2800.00:Alphabet Inc.")
	v.SetDefault("market.price_volatility_factor", 0.001)
	v.SetDefault("market.open_hour", 9)
	v.SetDefault("market.close_hour", 16)
	v.SetDefault("market.webhook_queue_size", 1024)

	v.SetDefault("log_level", "info")

	v.BindEnv("server.host", "SERVER_HOST")
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.database", "DB_NAME")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("market.initial_stocks", "INITIAL_STOCKS")
	v.BindEnv("market.price_volatility_factor", "PRICE_VOLATILITY_FACTOR")
	v.BindEnv("market.open_hour", "MARKET_OPEN_HOUR")
	v.BindEnv("market.close_hour", "MARKET_CLOSE_HOUR")
	v.BindEnv("log_level", "LOG_LEVEL")

	stocks, err := parseInitialStocks(v.GetString("market.initial_stocks"))
	if err != nil {
		return nil, fmt.Errorf("parsing INITIAL_STOCKS: %w", err)
	}

	return &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			IdleTimeout:  v.GetDuration("server.idle_timeout"),
		},
		Database: DatabaseConfig{
			Host:        v.GetString("database.host"),
			Port:        v.GetInt("database.port"),
			Database:    v.GetString("database.database"),
			User:        v.GetString("database.user"),
			Password:    v.GetString("database.password"),
			SSLMode:     v.GetString("database.sslmode"),
			MaxConns:    v.GetInt("database.max_conns"),
			MinConns:    v.GetInt("database.min_conns"),
			MaxConnLife: v.GetDuration("database.max_conn_life"),
		},
		Market: MarketConfig{
			InitialStocks:    stocks,
			PriceVolatility:  v.GetFloat64("market.price_volatility_factor"),
			MarketOpenHour:   v.GetInt("market.open_hour"),
			MarketCloseHour:  v.GetInt("market.close_hour"),
			WebhookQueueSize: v.GetInt("market.webhook_queue_size"),
		},
		LogLevel: v.GetString("log_level"),
	}, nil
}

// parseInitialStocks parses "SYM:PRICE:NAME,SYM:PRICE:NAME,..." (§6).
func parseInitialStocks(spec string) ([]InitialStock, error) {
	var out []InitialStock
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed stock entry %q, expected SYM:PRICE:NAME", entry)
		}
		var price float64
		if _, err := fmt.Sscanf(parts[1], "%f", &price); err != nil {
			return nil, fmt.Errorf("malformed price in %q: %w", entry, err)
		}
		out = append(out, InitialStock{
			Symbol: strings.ToUpper(strings.TrimSpace(parts[0])),
			Price:  price,
			Name:   strings.TrimSpace(parts[2]),
		})
	}
	return out, nil
}
