package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Transport kinds accepted in STREAM_TRANSPORT
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Config holds all configuration for the dashboard daemon
type Config struct {
	Port           string
	AllowedOrigins []string
	LogLevel       string
	LogFile        string

	// Upstream stream
	StreamTransport      string
	StreamHost           string
	StreamPort           string
	StreamPath           string
	MQTTBroker           string
	MQTTTopic            string
	MaxReconnectAttempts int

	// Upstream request/response API
	APIBaseURL     string
	APIToken       string
	HealthInterval time.Duration

	KnownAgents []string
	PenaltyFile string

	// Control API of the fleet simulator, empty when not running against one
	SimControlURL string

	// Dashboard's own API
	JWKSURL  string
	SkipAuth bool

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
	PingPeriod     time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Port:            getEnv("PORT", "8090"),
		AllowedOrigins:  splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFile:         getEnv("LOG_FILE", ""),
		StreamTransport: strings.ToLower(getEnv("STREAM_TRANSPORT", TransportWebSocket)),
		StreamHost:      getEnv("STREAM_HOST", "localhost"),
		StreamPort:      getEnv("STREAM_PORT", "3000"),
		StreamPath:      getEnv("STREAM_PATH", "/ws"),
		MQTTBroker:      getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTTopic:       getEnv("MQTT_TOPIC", "expose/events"),
		APIBaseURL:      getEnv("API_BASE_URL", ""),
		APIToken:        getEnv("API_TOKEN", ""),
		KnownAgents:     splitList(getEnv("KNOWN_AGENTS", "")),
		PenaltyFile:     getEnv("PENALTY_FILE", ""),
		SimControlURL:   getEnv("SIM_CONTROL_URL", ""),
		JWKSURL:         getEnv("JWKS_URL", ""),
		SkipAuth:        getEnv("SKIP_AUTH", "false") == "true",
	}

	switch config.StreamTransport {
	case TransportWebSocket, TransportMQTT:
	default:
		return nil, fmt.Errorf("invalid STREAM_TRANSPORT: %q", config.StreamTransport)
	}

	maxAttempts, err := strconv.Atoi(getEnv("MAX_RECONNECT_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: %w", err)
	}
	if maxAttempts < 1 {
		return nil, fmt.Errorf("invalid MAX_RECONNECT_ATTEMPTS: %d, must be at least 1", maxAttempts)
	}
	config.MaxReconnectAttempts = maxAttempts

	healthMs, err := strconv.Atoi(getEnv("HEALTH_INTERVAL", "5000"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_INTERVAL: %w", err)
	}
	config.HealthInterval = time.Duration(healthMs) * time.Millisecond

	wsReadTimeout, err := strconv.Atoi(getEnv("WS_READ_TIMEOUT", "60"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_READ_TIMEOUT: %w", err)
	}
	config.WSReadTimeout = time.Duration(wsReadTimeout) * time.Second

	wsWriteTimeout, err := strconv.Atoi(getEnv("WS_WRITE_TIMEOUT", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_WRITE_TIMEOUT: %w", err)
	}
	config.WSWriteTimeout = time.Duration(wsWriteTimeout) * time.Second

	// Calculate WebSocket constants for the downstream hub
	config.PongWait = config.WSReadTimeout
	config.PingPeriod = (config.PongWait * 9) / 10 // Must be less than pongWait
	config.WriteWait = config.WSWriteTimeout
	config.MaxMessageSize = 512

	// The request/response API lives on the same host as the stream unless overridden
	if config.APIBaseURL == "" {
		config.APIBaseURL = "http://" + config.StreamAddr()
	}

	return config, nil
}

// StreamAddr returns host[:port] of the upstream backend
func (c *Config) StreamAddr() string {
	if c.StreamPort == "" {
		return c.StreamHost
	}
	return net.JoinHostPort(c.StreamHost, c.StreamPort)
}

// StreamURL returns the websocket URL ws://host[:port]/ws
func (c *Config) StreamURL() string {
	u := url.URL{Scheme: "ws", Host: c.StreamAddr(), Path: c.StreamPath}
	return u.String()
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// splitList splits a comma separated value and drops empty items
func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
