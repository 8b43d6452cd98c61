package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all leaf-doctor configuration.
type Config struct {
	Server    ServerConfig
	Model     ModelConfig
	Explainer ExplainerConfig
	Diagnosis DiagnosisConfig
	Log       LogConfig
}

// ServerConfig holds HTTP and upload settings.
type ServerConfig struct {
	Port              string
	UploadDir         string
	MaxUploadBytes    int64
	AllowedExtensions []string
}

// ModelConfig points at the ONNX classifier files.
type ModelConfig struct {
	ModelPath    string
	MetadataPath string
	ORTLibPath   string // empty uses the onnxruntime default lookup
	CatalogPath  string // empty uses the embedded treatment catalog
}

// ExplainerConfig holds Ollama settings.
type ExplainerConfig struct {
	URL   string
	Model string
}

// DiagnosisConfig holds the ranking and warning policy plus per-call bounds.
type DiagnosisConfig struct {
	ConfidenceThreshold float64
	MaxResults          int
	ClassifyTimeout     time.Duration
	ExplainTimeout      time.Duration
}

// LogConfig selects the slog handler and level.
type LogConfig struct {
	Level  string
	Format string // "text" or "json"
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:              getenv("PORT", "8080"),
			UploadDir:         getenv("LEAF_UPLOAD_DIR", "static/uploads"),
			MaxUploadBytes:    int64(getenvInt("LEAF_MAX_UPLOAD_BYTES", 10<<20)),
			AllowedExtensions: getenvList("LEAF_ALLOWED_EXTENSIONS", []string{"png", "jpg", "jpeg"}),
		},
		Model: ModelConfig{
			ModelPath:    getenv("LEAF_MODEL_PATH", "models/model.onnx"),
			MetadataPath: getenv("LEAF_METADATA_PATH", "models/model_metadata.json"),
			ORTLibPath:   os.Getenv("LEAF_ORT_LIB_PATH"),
			CatalogPath:  os.Getenv("LEAF_CATALOG_PATH"),
		},
		Explainer: ExplainerConfig{
			URL:   getenv("LEAF_OLLAMA_URL", "http://localhost:11434"),
			Model: getenv("LEAF_OLLAMA_MODEL", "llama3"),
		},
		Diagnosis: DiagnosisConfig{
			ConfidenceThreshold: getenvFloat("LEAF_CONFIDENCE_THRESHOLD", 0.15),
			MaxResults:          getenvInt("LEAF_MAX_RESULTS", 3),
			ClassifyTimeout:     getenvDuration("LEAF_CLASSIFY_TIMEOUT", 30*time.Second),
			ExplainTimeout:      getenvDuration("LEAF_EXPLAIN_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Level:  getenv("LEAF_LOG_LEVEL", "info"),
			Format: getenv("LEAF_LOG_FORMAT", "text"),
		},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Diagnosis.ConfidenceThreshold < 0 || c.Diagnosis.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be between 0 and 1, got %v", c.Diagnosis.ConfidenceThreshold)
	}
	if c.Diagnosis.MaxResults < 1 {
		return fmt.Errorf("max results must be positive, got %d", c.Diagnosis.MaxResults)
	}
	if c.Diagnosis.ClassifyTimeout <= 0 || c.Diagnosis.ExplainTimeout <= 0 {
		return fmt.Errorf("call timeouts must be positive")
	}
	if len(c.Server.AllowedExtensions) == 0 {
		return fmt.Errorf("allowed extensions cannot be empty")
	}
	if c.Server.MaxUploadBytes <= 0 {
		return fmt.Errorf("max upload bytes must be positive, got %d", c.Server.MaxUploadBytes)
	}
	if c.Server.UploadDir == "" {
		return fmt.Errorf("upload directory cannot be empty")
	}
	if c.Explainer.Model == "" {
		return fmt.Errorf("ollama model cannot be empty")
	}
	return nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getenvList splits a comma-separated value, lowercasing entries and
// stripping any leading dot so ".JPG" and "jpg" mean the same thing.
func getenvList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(part)), ".")
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
