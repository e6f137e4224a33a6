package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type KafkaConfig struct {
	Brokers             []string
	SecurityEventsTopic string
	ResultsTopic        string
}

type ClickhouseConfig struct {
	URL      string
	Database string
	Username string
	Password string
}

type ElasticsearchConfig struct {
	URL            string
	Username       string
	Password       string
	CandidateIndex string
}

type KMSConfig struct {
	Enabled bool
	Region  string
	KeyID   string
	// EncryptedDataKey is the base64 KMS-wrapped vault key, decrypted once
	// at startup when KMS is enabled.
	EncryptedDataKey string
}

type VaultConfig struct {
	// KeyHex is the 32-byte AES key in hex, used when KMS is disabled.
	KeyHex string
}

type SecurityConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

type MatcherConfig struct {
	// Mode selects the matcher implementation at construction time:
	// "remote" or "simulated".
	Mode                 string
	RemoteEndpoint       string
	CallTimeout          time.Duration
	FaceThreshold        float64
	FingerprintThreshold float64
	RetinaThreshold      float64
}

type BucketingConfig struct {
	CandidateBuckets int
	EventBuckets     int
}

type ImportConfig struct {
	Concurrency int
}

type Config struct {
	Environment   string
	Server        ServerConfig
	Logging       LoggingConfig
	Scylla        ScyllaConfig
	Redis         RedisConfig
	Kafka         KafkaConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	KMS           KMSConfig
	Vault         VaultConfig
	Security      SecurityConfig
	Matcher       MatcherConfig
	Bucketing     BucketingConfig
	Import        ImportConfig
}

var (
	instance *Config
	once     sync.Once
)

// LoadConfig reads configuration from the environment (with optional .env
// file) exactly once and caches it for Get.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		instance = &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Port:         getEnvInt("SERVER_PORT", 8080),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "json"),
			},
			Scylla: ScyllaConfig{
				Nodes:    getEnvList("SCYLLA_NODES", "127.0.0.1:9042"),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "verification"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Kafka: KafkaConfig{
				Brokers:             getEnvList("KAFKA_BROKERS", "127.0.0.1:9092"),
				SecurityEventsTopic: getEnv("KAFKA_SECURITY_EVENTS_TOPIC", "security-events"),
				ResultsTopic:        getEnv("KAFKA_RESULTS_TOPIC", "verification-results"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
				Database: getEnv("CLICKHOUSE_DATABASE", "verification_analytics"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:            getEnv("ELASTICSEARCH_URL", "http://127.0.0.1:9200"),
				Username:       getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:       getEnv("ELASTICSEARCH_PASSWORD", ""),
				CandidateIndex: getEnv("ELASTICSEARCH_CANDIDATE_INDEX", "candidates"),
			},
			KMS: KMSConfig{
				Enabled:          getEnvBool("KMS_ENABLED", false),
				Region:           getEnv("KMS_REGION", "ap-south-1"),
				KeyID:            getEnv("KMS_KEY_ID", ""),
				EncryptedDataKey: getEnv("KMS_ENCRYPTED_DATA_KEY", ""),
			},
			Vault: VaultConfig{
				KeyHex: getEnv("VAULT_KEY_HEX", ""),
			},
			Security: SecurityConfig{
				MaxLoginAttempts: getEnvInt("MAX_LOGIN_ATTEMPTS", 3),
				LockoutDuration:  getEnvDuration("LOCKOUT_DURATION", 15*time.Minute),
			},
			Matcher: MatcherConfig{
				Mode:                 getEnv("MATCHER_MODE", "simulated"),
				RemoteEndpoint:       getEnv("MATCHER_REMOTE_ENDPOINT", ""),
				CallTimeout:          getEnvDuration("MATCHER_CALL_TIMEOUT", 10*time.Second),
				FaceThreshold:        getEnvFloat("FACE_MATCH_THRESHOLD", 75.0),
				FingerprintThreshold: getEnvFloat("FINGERPRINT_MATCH_THRESHOLD", 75.0),
				RetinaThreshold:      getEnvFloat("RETINA_MATCH_THRESHOLD", 75.0),
			},
			Bucketing: BucketingConfig{
				CandidateBuckets: getEnvInt("CANDIDATE_BUCKETS", 64),
				EventBuckets:     getEnvInt("EVENT_BUCKETS", 16),
			},
			Import: ImportConfig{
				Concurrency: getEnvInt("IMPORT_CONCURRENCY", 8),
			},
		}
	})

	return instance
}

// Get returns the cached config, loading it on first use.
func Get() *Config {
	if instance == nil {
		return LoadConfig()
	}
	return instance
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
