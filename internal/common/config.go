package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"ark-mcp/internal/ark"

	"github.com/joho/godotenv"
)

const (
	DefaultBaseURL      = ark.DefaultBaseURL
	DefaultVideoModel   = "doubao-seedance-1-5-pro-251215"
	DefaultImageModel   = "doubao-seedream-4-0-250828"
	DefaultPollInterval = 5 * time.Second
	DefaultMaxPolls     = 120
)

// FileBaseURLEnvs lists the variables consulted, in order, when a file
// reference is a site-relative path like "/files/abc/file-preview".
var FileBaseURLEnvs = []string{"DIFY_INNER_API_URL", "DIFY_API_URL", "DIFY_BASE_URL", "CONSOLE_API_URL"}

type Config struct {
	// Ark API Configuration
	APIKey       string
	BaseURL      string
	VideoModel   string
	ImageModel   string
	PollInterval time.Duration
	MaxPolls     int

	// File resolution
	FileBaseURLs []string // Absolute bases for site-relative file URLs, in priority order
	FileAPIURL   string   // Optional file content service: GET {FileAPIURL}/files/{id}

	// Server Configuration
	LogLevel  string
	Port      string
	Transport string
	OutputDir string

	// Authentication Configuration
	ServiceTokens []string // Comma-separated list of valid Bearer tokens
	AuthEnabled   bool     // Whether authentication is required for HTTP transport

	// S3 Storage Configuration (HTTP mode only)
	S3Endpoint        string        // S3/MinIO endpoint (e.g., "minio:9000" or "s3.amazonaws.com")
	S3Bucket          string        // Bucket name for uploads and downloaded artifacts
	S3Region          string        // AWS region (default: us-east-1)
	S3AccessKeyID     string        // Access key ID
	S3SecretAccessKey string        // Secret access key
	S3UseSSL          bool          // Use SSL/TLS for S3 connection (default: true)
	S3PresignTTL      time.Duration // TTL for presigned URLs (default: 24h)
	S3ObjectTTL       time.Duration // TTL for objects before auto-deletion (default: 24h)
	S3CleanupInterval time.Duration // Cleanup task interval (default: 1h)
	S3Enabled         bool          // Auto-enabled when S3 is configured in HTTP mode
}

// LoadConfig reads .env (when present) and the process environment.
func LoadConfig() *Config {
	// A missing .env is the normal case in containers.
	_ = godotenv.Load()

	config := &Config{
		APIKey:       os.Getenv("ARK_API_KEY"),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", DefaultBaseURL),
		VideoModel:   getEnvOrDefault("ARK_VIDEO_MODEL", DefaultVideoModel),
		ImageModel:   getEnvOrDefault("ARK_IMAGE_MODEL", DefaultImageModel),
		PollInterval: getEnvOrDefaultDuration("POLL_INTERVAL", DefaultPollInterval),
		MaxPolls:     getEnvOrDefaultInt("MAX_POLLS", DefaultMaxPolls),
		FileBaseURLs: lookupBaseURLs(FileBaseURLEnvs),
		FileAPIURL:   os.Getenv("FILE_API_URL"),

		LogLevel:      getEnvOrDefault("LOG_LEVEL", "info"),
		Port:          getEnvOrDefault("PORT", "8080"),
		Transport:     getEnvOrDefault("TRANSPORT", "stdio"),
		OutputDir:     getEnvOrDefault("OUTPUT_DIR", "/tmp/ark-mcp"),
		ServiceTokens: parseServiceTokens(os.Getenv("SERVICE_TOKENS")),

		// S3 configuration
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Bucket:          getEnvOrDefault("S3_BUCKET", "ark-media"),
		S3Region:          getEnvOrDefault("S3_REGION", "us-east-1"),
		S3AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3UseSSL:          getEnvOrDefaultBool("S3_USE_SSL", true),
		S3PresignTTL:      getEnvOrDefaultDuration("S3_PRESIGN_TTL", 24*time.Hour),
		S3ObjectTTL:       getEnvOrDefaultDuration("S3_OBJECT_TTL", 24*time.Hour),
		S3CleanupInterval: getEnvOrDefaultDuration("S3_CLEANUP_INTERVAL", 1*time.Hour),
	}

	config.AuthEnabled = len(config.ServiceTokens) > 0
	config.applyTransport()

	return config
}

// SetTransport overrides the transport (e.g. from a command-line flag) and
// re-derives the settings that depend on it.
func (c *Config) SetTransport(transport string) {
	if transport == "" {
		return
	}
	c.Transport = transport
	c.applyTransport()
}

func (c *Config) applyTransport() {
	// Enable S3 if endpoint is configured and transport is HTTP
	c.S3Enabled = c.S3Endpoint != "" &&
		c.S3AccessKeyID != "" &&
		c.S3SecretAccessKey != "" &&
		(c.Transport == "http" || c.Transport == "sse")
}

// lookupBaseURLs returns the non-blank values of keys, in the order given.
func lookupBaseURLs(keys []string) []string {
	var bases []string
	for _, key := range keys {
		if value := strings.TrimSpace(os.Getenv(key)); value != "" {
			bases = append(bases, value)
		}
	}
	return bases
}

// parseServiceTokens parses a comma-separated list of tokens
func parseServiceTokens(tokensStr string) []string {
	if tokensStr == "" {
		return nil
	}
	tokens := strings.Split(tokensStr, ",")
	var result []string
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t != "" {
			result = append(result, t)
		}
	}
	return result
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

// getEnvOrDefaultDuration accepts Go durations ("5s") and bare seconds ("5").
func getEnvOrDefaultDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if seconds, err := strconv.ParseFloat(value, 64); err == nil {
			return time.Duration(seconds * float64(time.Second))
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return defaultValue
		}
		return parsed
	}
	return defaultValue
}

func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("ARK_API_KEY environment variable is required")
	}
	if c.MaxPolls <= 0 {
		return fmt.Errorf("MAX_POLLS must be positive, got %d", c.MaxPolls)
	}
	return nil
}

// UploadConfig is a minimal config for the upload_media CLI
type UploadConfig struct {
	ServerURL string
	Token     string
}

// LoadUploadConfig loads defaults for the upload_media CLI; flags override them.
func LoadUploadConfig() *UploadConfig {
	_ = godotenv.Load()
	return &UploadConfig{
		ServerURL: os.Getenv("ARK_MCP_UPLOAD_URL"),
		Token:     os.Getenv("ARK_MCP_UPLOAD_TOKEN"),
	}
}

// Validate validates configuration for the upload CLI
func (c *UploadConfig) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("--server (or ARK_MCP_UPLOAD_URL) is required")
	}
	if c.Token == "" {
		return fmt.Errorf("--token (or ARK_MCP_UPLOAD_TOKEN) is required")
	}
	return nil
}
