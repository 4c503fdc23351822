package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Server ServerConfig

	// Booking backend (availability/hold/release) configuration
	Backend BackendConfig

	// Cart service configuration
	Cart CartConfig

	// Widget behavior configuration
	Widget WidgetConfig

	// CORS configuration
	CORS CORSConfig
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port        string
	Environment string // development, staging, production
	LogLevel    string // debug, info, warn, error
}

// BackendConfig holds the booking backend HTTP contract configuration
type BackendConfig struct {
	BaseURL string        // Base path for availability/hold/release/config
	Timeout time.Duration // Per-request timeout
}

// CartConfig holds the storefront cart service configuration
type CartConfig struct {
	BaseURL string        // Origin serving POST /cart/add.js
	Timeout time.Duration // Per-request timeout
}

// WidgetConfig holds controller behavior configuration
type WidgetConfig struct {
	DebounceDelay     time.Duration // Quiet period before an availability probe
	CountdownInterval time.Duration // Hold countdown resolution
	CheckoutURL       string        // Redirect target after cart attachment
	MoneyFormat       string        // Storefront money format template
	SessionTTL        time.Duration // Idle time before a session is reaped
	ReapInterval      time.Duration // How often the reaper sweeps
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (for local development)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	config := &Config{
		Server: ServerConfig{
			Port:        getEnv("PORT", "8080"),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
		},
		Backend: BackendConfig{
			BaseURL: getEnv("BOOKING_API_BASE_URL", ""),
			Timeout: time.Duration(getEnvAsInt("BOOKING_API_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Cart: CartConfig{
			BaseURL: getEnv("CART_BASE_URL", ""),
			Timeout: time.Duration(getEnvAsInt("CART_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Widget: WidgetConfig{
			DebounceDelay:     time.Duration(getEnvAsInt("WIDGET_DEBOUNCE_MS", 500)) * time.Millisecond,
			CountdownInterval: time.Duration(getEnvAsInt("WIDGET_COUNTDOWN_INTERVAL_MS", 1000)) * time.Millisecond,
			CheckoutURL:       getEnv("WIDGET_CHECKOUT_URL", "/checkout"),
			MoneyFormat:       getEnv("WIDGET_MONEY_FORMAT", "${{amount}}"),
			SessionTTL:        time.Duration(getEnvAsInt("WIDGET_SESSION_TTL_SECONDS", 1800)) * time.Second,
			ReapInterval:      time.Duration(getEnvAsInt("WIDGET_REAP_INTERVAL_SECONDS", 30)) * time.Second,
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		},
	}

	// Validate required configuration
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("BOOKING_API_BASE_URL is required")
	}

	if c.Cart.BaseURL == "" {
		return fmt.Errorf("CART_BASE_URL is required")
	}

	if c.Widget.DebounceDelay <= 0 {
		return fmt.Errorf("WIDGET_DEBOUNCE_MS must be positive")
	}

	if c.Widget.CountdownInterval <= 0 {
		return fmt.Errorf("WIDGET_COUNTDOWN_INTERVAL_MS must be positive")
	}

	return nil
}

// Helper functions to get environment variables

func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s, using default: %d", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var result []string
	for _, v := range strings.Split(valueStr, ",") {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	if len(result) == 0 {
		return defaultValue
	}
	return result
}
