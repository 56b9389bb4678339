package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort           int
	MetricsPort        int
	OTLPEndpoint       string
	ServiceName        string
	LogLevel           string
	DeliveryConfigPath string
	DeliveryTimeout    time.Duration
	TemplateDir        string
	LandingTemplate    string
	AuthTemplate       string
	AuthTemplateName   string
	AuthTemplateLocale string
	FallbackRoute      string
	PlaceName          string
	WelcomeURL         string
	StoreDriver        string
	DatabaseURL        string
	RedisURL           string
	MongoURL           string
	MongoDatabase      string
	CodeTTL            time.Duration
	KafkaBrokers       []string
	PortalEventsTopic  string
}

func LoadConfig(service string) (*Config, error) {
	cfg := &Config{ServiceName: service}

	httpPort, err := getEnvInt("HTTP_PORT", 8080)
	if err != nil {
		return nil, err
	}
	cfg.HTTPPort = httpPort

	metricsPort, err := getEnvInt("METRICS_PORT", httpPort+1000)
	if err != nil {
		return nil, err
	}
	cfg.MetricsPort = metricsPort

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")
	cfg.DeliveryConfigPath = getEnv("DELIVERY_CONFIG_PATH", "whatsapp_api_config.json")

	timeout, err := getEnvDuration("DELIVERY_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.DeliveryTimeout = timeout

	cfg.TemplateDir = os.Getenv("TEMPLATE_DIR")
	cfg.LandingTemplate = getEnv("LANDING_TEMPLATE", "index.html")
	cfg.AuthTemplate = getEnv("AUTH_TEMPLATE", "auth.html")
	cfg.AuthTemplateName = getEnv("AUTH_TEMPLATE_NAME", "test_auth")
	cfg.AuthTemplateLocale = getEnv("AUTH_TEMPLATE_LOCALE", "en_US")
	cfg.PlaceName = os.Getenv("PLACE_NAME")
	cfg.WelcomeURL = os.Getenv("WELCOME_URL")

	cfg.FallbackRoute = getEnv("FALLBACK_ROUTE", "notfound")
	switch cfg.FallbackRoute {
	case "notfound", "landing":
	default:
		return nil, fmt.Errorf("invalid value for FALLBACK_ROUTE: %q", cfg.FallbackRoute)
	}

	cfg.StoreDriver = getEnv("STORE_DRIVER", "memory")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.RedisURL = getEnv("REDIS_URL", "redis://localhost:6379/0")
	cfg.MongoURL = getEnv("MONGO_URL", "mongodb://localhost:27017")
	cfg.MongoDatabase = getEnv("MONGO_DATABASE", "wifi_portal")

	ttl, err := getEnvDuration("CODE_TTL", 0)
	if err != nil {
		return nil, err
	}
	cfg.CodeTTL = ttl

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}
	cfg.PortalEventsTopic = getEnv("PORTAL_EVENTS_TOPIC", "portal.events")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		return parsed, nil
	}
	return fallback, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key); v != "" {
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		if parsed < 0 {
			return 0, fmt.Errorf("invalid value for %s: must not be negative", key)
		}
		return parsed, nil
	}
	return fallback, nil
}
