// Package config loads service configuration from the environment and the
// optional config directory.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied when the corresponding environment variable is unset.
const (
	DefaultHTTPPort        = "3001"
	DefaultPlatformURL     = "http://localhost:8283/v1"
	DefaultVectorHTTPHost  = "vectorstore"
	DefaultVectorHTTPPort  = 8080
	DefaultVectorGRPCHost  = "vectorstore"
	DefaultVectorGRPCPort  = 50051
	DefaultEmbeddingModel  = "text-embedding-3-small"
	DefaultCacheDir        = "./runtime_cache"
	DefaultSyncInterval    = 300 * time.Second
	DefaultDropRate        = 0.1
	DefaultMutationTimeout = 10 * time.Second
)

// Config is the umbrella configuration object for the service.
type Config struct {
	HTTPPort string

	// Agent Platform
	PlatformURL    string // base URL, normalized to end in /v1
	PlatformSecret string // shared secret forwarded verbatim

	// Vector Store
	VectorHTTPHost string
	VectorHTTPPort int
	VectorGRPCHost string
	VectorGRPCPort int

	// Embedding provider (direct fallback + store vectorizer header)
	EmbeddingAPIKey string
	EmbeddingModel  string

	// Cache files
	CacheDir string

	// Sync engine
	SyncInterval   time.Duration
	ClearOnStartup bool

	// Attach/prune engine
	DefaultDropRate float64
	MutationTimeout time.Duration

	// Query expansion table: token → related terms.
	Synonyms map[string][]string
}

// Load reads configuration from the environment. configDir may contain an
// optional synonyms.yaml overriding the built-in query-expansion table; pass
// "" to use the built-in table only.
func Load(configDir string) (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", DefaultHTTPPort),
		PlatformURL:     NormalizePlatformURL(getEnv("PLATFORM_API_URL", DefaultPlatformURL)),
		PlatformSecret:  os.Getenv("PLATFORM_SECRET"),
		VectorHTTPHost:  getEnv("VECTOR_HTTP_HOST", DefaultVectorHTTPHost),
		VectorGRPCHost:  getEnv("VECTOR_GRPC_HOST", DefaultVectorGRPCHost),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:  getEnv("EMBEDDING_MODEL", DefaultEmbeddingModel),
		CacheDir:        getEnv("CACHE_DIR", DefaultCacheDir),
	}

	var err error
	if cfg.VectorHTTPPort, err = getEnvInt("VECTOR_HTTP_PORT", DefaultVectorHTTPPort); err != nil {
		return nil, err
	}
	if cfg.VectorGRPCPort, err = getEnvInt("VECTOR_GRPC_PORT", DefaultVectorGRPCPort); err != nil {
		return nil, err
	}

	seconds, err := getEnvInt("SYNC_INTERVAL", int(DefaultSyncInterval/time.Second))
	if err != nil {
		return nil, err
	}
	if seconds <= 0 {
		return nil, fmt.Errorf("SYNC_INTERVAL must be positive, got %d", seconds)
	}
	cfg.SyncInterval = time.Duration(seconds) * time.Second

	if cfg.DefaultDropRate, err = getEnvFloat("DEFAULT_DROP_RATE", DefaultDropRate); err != nil {
		return nil, err
	}
	if cfg.DefaultDropRate < 0 || cfg.DefaultDropRate > 1 {
		return nil, fmt.Errorf("DEFAULT_DROP_RATE must be in [0,1], got %g", cfg.DefaultDropRate)
	}

	timeoutSeconds, err := getEnvInt("MUTATION_TIMEOUT", int(DefaultMutationTimeout/time.Second))
	if err != nil {
		return nil, err
	}
	if timeoutSeconds <= 0 {
		return nil, fmt.Errorf("MUTATION_TIMEOUT must be positive, got %d", timeoutSeconds)
	}
	cfg.MutationTimeout = time.Duration(timeoutSeconds) * time.Second

	cfg.ClearOnStartup = strings.EqualFold(os.Getenv("CLEAR_ON_STARTUP"), "true")

	cfg.Synonyms, err = loadSynonyms(configDir)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// VectorHTTPAddr returns the Vector Store base URL for HTTP traffic.
func (c *Config) VectorHTTPAddr() string {
	return fmt.Sprintf("http://%s:%d", c.VectorHTTPHost, c.VectorHTTPPort)
}

// NormalizePlatformURL upgrades plain-http URLs to https for non-local hosts
// and guarantees the /v1 suffix the platform API is mounted under.
func NormalizePlatformURL(raw string) string {
	url := strings.TrimRight(raw, "/")
	if strings.HasPrefix(url, "http://") && !isLocalURL(url) {
		url = "https://" + strings.TrimPrefix(url, "http://")
	}
	if !strings.HasSuffix(url, "/v1") {
		url += "/v1"
	}
	return url
}

func isLocalURL(url string) bool {
	host := strings.TrimPrefix(url, "http://")
	if i := strings.IndexAny(host, ":/"); i >= 0 {
		host = host[:i]
	}
	return host == "localhost" || host == "127.0.0.1"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	return v, nil
}
