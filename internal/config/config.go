package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything both services read from the environment.
// Each main picks the fields it needs; unset variables fall back to
// docker-compose defaults.
type Config struct {
	ServiceName string

	HTTPPort int
	GRPCPort int

	// Inventory endpoints as seen from the order service: gRPC for the
	// reservation protocol, HTTP for the catalog proxy.
	InventoryHost     string
	InventoryHTTPPort int

	DB DBConfig

	RedisAddr    string
	KafkaBrokers []string

	// Consumer group names. One group per logical subscription.
	OrderEventsGroup string
	VerifyQueueGroup string

	ReserveTimeout  time.Duration
	HealthTimeout   time.Duration
	OutboxInterval  time.Duration
	MetricsInterval time.Duration

	Chaos ChaosConfig
}

// DBConfig assembles a pgx DSN from the per-service DB_* variables.
type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// ChaosConfig mirrors the fault-injection toggles. Everything stays off
// unless enabled explicitly.
type ChaosConfig struct {
	GremlinMode      bool
	GremlinMinDelay  time.Duration
	GremlinMaxDelay  time.Duration
	SchrodingerMode  bool
	CrashProbability float64
}

func Load(service string) Config {
	return Config{
		ServiceName:       getenv("SERVICE_NAME", service),
		HTTPPort:          getint("HTTP_PORT", defaultHTTPPort(service)),
		GRPCPort:          getint("GRPC_PORT", 50051),
		InventoryHost:     getenv("INVENTORY_SERVICE_HOST", "localhost"),
		InventoryHTTPPort: getint("INVENTORY_HTTP_PORT", 8082),

		DB: DBConfig{
			Host:     getenv("DB_HOST", "localhost"),
			Port:     getint("DB_PORT", 5432),
			Name:     getenv("DB_NAME", defaultDBName(service)),
			User:     getenv("DB_USER", "app"),
			Password: getenv("DB_PASSWORD", "secret"),
		},

		RedisAddr:    getenv("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers: splitCSV(getenv("KAFKA_BROKERS", "localhost:9092")),

		OrderEventsGroup: getenv("ORDER_EVENTS_GROUP", "order-service-sub"),
		VerifyQueueGroup: getenv("VERIFY_QUEUE_GROUP", "inventory-verify"),

		ReserveTimeout:  getms("RESERVE_TIMEOUT_MS", 2000),
		HealthTimeout:   getms("HEALTH_TIMEOUT_MS", 1000),
		OutboxInterval:  getms("OUTBOX_INTERVAL_MS", 250),
		MetricsInterval: getms("METRICS_INTERVAL_MS", 15000),

		Chaos: ChaosConfig{
			GremlinMode:      getbool("GREMLIN_MODE", false),
			GremlinMinDelay:  getms("GREMLIN_MIN_DELAY_MS", 2500),
			GremlinMaxDelay:  getms("GREMLIN_MAX_DELAY_MS", 4000),
			SchrodingerMode:  getbool("SCHRODINGER_MODE", false),
			CrashProbability: getfloat("SCHRODINGER_CRASH_PROBABILITY", 0.3),
		},
	}
}

func defaultHTTPPort(service string) int {
	if service == "inventory-service" {
		return 8082
	}
	return 8081
}

func defaultDBName(service string) string {
	if service == "inventory-service" {
		return "inventory"
	}
	return "orders"
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getms(k string, defMillis int) time.Duration {
	return time.Duration(getint(k, defMillis)) * time.Millisecond
}

func getbool(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getfloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
