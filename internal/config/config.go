package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

const (
	defaultHTTPAddr        = ":8080"
	defaultGRPCAddr        = ":50051"
	defaultMySQLDSN        = "root:root@tcp(localhost:3306)/pcb_inventory?parseTime=true"
	defaultKafkaTopic      = "pcb.production"
	defaultReorderFraction = "0.2"
	defaultTxTimeout       = 10 * time.Second
	defaultWorkerCount     = 4
	defaultQueueSize       = 1000
)

type Config struct {
	HTTPAddr string
	GRPCAddr string

	Storage              string
	MySQLDSN             string
	MySQLMaxOpenConns    int
	MySQLMaxIdleConns    int
	MySQLConnMaxLifetime time.Duration
	Migrate              bool

	RedisAddr     string
	RedisPoolSize int

	KafkaBrokers []string
	KafkaTopic   string

	ReorderFraction decimal.Decimal
	TxTimeout       time.Duration
	WorkerCount     int
	QueueSize       int

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first if present; real environment variables win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from a lookup function.
func FromEnv(lookup func(string) (string, bool)) (*Config, error) {
	r := reader{lookup: lookup}

	cfg := &Config{
		HTTPAddr:             r.str("HTTP_ADDR", defaultHTTPAddr),
		GRPCAddr:             r.str("GRPC_ADDR", defaultGRPCAddr),
		Storage:              strings.ToLower(r.str("STORAGE", StorageMySQL)),
		MySQLDSN:             r.str("MYSQL_DSN", defaultMySQLDSN),
		MySQLMaxOpenConns:    r.int("MYSQL_MAX_OPEN_CONNS", 50),
		MySQLMaxIdleConns:    r.int("MYSQL_MAX_IDLE_CONNS", 25),
		MySQLConnMaxLifetime: r.duration("MYSQL_CONN_MAX_LIFETIME", 5*time.Minute),
		Migrate:              r.bool("MIGRATE", false),
		RedisAddr:            r.str("REDIS_ADDR", ""),
		RedisPoolSize:        r.int("REDIS_POOL_SIZE", 100),
		KafkaBrokers:         r.list("KAFKA_BROKERS"),
		KafkaTopic:           r.str("KAFKA_TOPIC", defaultKafkaTopic),
		TxTimeout:            r.duration("TX_TIMEOUT", defaultTxTimeout),
		WorkerCount:          r.int("WORKER_COUNT", defaultWorkerCount),
		QueueSize:            r.int("QUEUE_SIZE", defaultQueueSize),
		LogLevel:             r.str("LOG_LEVEL", "info"),
		LogFormat:            r.str("LOG_FORMAT", "json"),
	}

	fraction, err := decimal.NewFromString(r.str("REORDER_FRACTION", defaultReorderFraction))
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("REORDER_FRACTION: %w", err))
	}
	cfg.ReorderFraction = fraction

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Storage != StorageMySQL && c.Storage != StorageMemory {
		errs = append(errs, fmt.Errorf("STORAGE must be %q or %q, got %q", StorageMySQL, StorageMemory, c.Storage))
	}
	if c.Storage == StorageMySQL && c.MySQLDSN == "" {
		errs = append(errs, errors.New("MYSQL_DSN is required for mysql storage"))
	}
	if c.ReorderFraction.IsNegative() || c.ReorderFraction.GreaterThan(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Errorf("REORDER_FRACTION must be within [0, 1], got %s", c.ReorderFraction))
	}
	if c.TxTimeout < 0 {
		errs = append(errs, errors.New("TX_TIMEOUT must not be negative"))
	}
	if c.WorkerCount < 1 {
		errs = append(errs, errors.New("WORKER_COUNT must be at least 1"))
	}
	if c.QueueSize < 0 {
		errs = append(errs, errors.New("QUEUE_SIZE must not be negative"))
	}
	return errors.Join(errs...)
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) str(key, def string) string {
	if v, ok := r.lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

func (r *reader) int(key string, def int) int {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func (r *reader) bool(key string, def bool) bool {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v := r.str(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func (r *reader) list(key string) []string {
	v := r.str(key, "")
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
