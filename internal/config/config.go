package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backends understood by the composition root
const (
	BackendAzure    = "azure"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
	BackendGoogle   = "gcv"
)

// Config holds the application configuration
type Config struct {
	Backend             string        `yaml:"backend"`
	FallbackDescription string        `yaml:"fallback_description"`
	Vision              VisionConfig  `yaml:"vision"`
	Upload              UploadConfig  `yaml:"upload"`
	OCR                 OCRConfig     `yaml:"ocr"`
	Camera              CameraConfig  `yaml:"camera"`
	Speech              SpeechConfig  `yaml:"speech"`
	Output              OutputConfig  `yaml:"output"`
	History             HistoryConfig `yaml:"history"`
	Server              ServerConfig  `yaml:"server"`
	Log                 LogConfig     `yaml:"log"`
}

// VisionConfig identifies the remote analysis service.
// Missing secrets are reported by the client on first use, not here.
type VisionConfig struct {
	APIRoot         string        `yaml:"api_root"`
	SubscriptionKey string        `yaml:"subscription_key"`
	Model           string        `yaml:"model"`
	ServerURL       string        `yaml:"server_url"`
	Timeout         time.Duration `yaml:"timeout"`
}

// UploadConfig bounds what is sent to the service
type UploadConfig struct {
	MaxDimension int `yaml:"max_dimension"`
	MaxBytes     int `yaml:"max_bytes"`
	JPEGQuality  int `yaml:"jpeg_quality"`
}

// OCRConfig controls the optional text recognition call
type OCRConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Language string `yaml:"language"`
}

// CameraConfig holds the capture command; {out} is replaced with the target file
type CameraConfig struct {
	Command string `yaml:"command"`
}

// SpeechConfig holds the text-to-speech command; the text is passed on stdin
type SpeechConfig struct {
	Enabled bool   `yaml:"enabled"`
	Command string `yaml:"command"`
}

// OutputConfig holds configuration for presentation output
type OutputConfig struct {
	Dir         string `yaml:"dir"`
	ImageFormat string `yaml:"image_format"`
	Quality     int    `yaml:"quality"`
	Lossless    bool   `yaml:"lossless"`
	SaveResults bool   `yaml:"save_results"`
	Verbose     bool   `yaml:"verbose"`
}

// HistoryConfig points at the SQLite history database; empty disables it
type HistoryConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures apex/log
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Backend:             BackendAzure,
		FallbackDescription: "I could not describe this image.",
		Vision: VisionConfig{
			APIRoot: "https://westus.api.cognitive.microsoft.com/vision/v1.0",
			Model:   "openbmb/minicpm-v4.5",
			Timeout: 60 * time.Second,
		},
		Upload: UploadConfig{
			MaxDimension: 3200,
			MaxBytes:     4 << 20,
			JPEGQuality:  90,
		},
		OCR: OCRConfig{
			Enabled:  false,
			Language: "en",
		},
		Camera: CameraConfig{
			Command: "fswebcam --no-banner --jpeg 95 {out}",
		},
		Speech: SpeechConfig{
			Enabled: true,
			Command: "espeak --stdin",
		},
		Output: OutputConfig{
			Dir:         "./output",
			ImageFormat: "jpg",
			Quality:     90,
			SaveResults: false,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "cli",
		},
	}
}

// LoadFromFile loads configuration from a YAML file on top of the defaults
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// Load reads filename if it exists, falls back to defaults otherwise, and
// applies environment overrides.
func Load(filename string) (*Config, error) {
	config := Default()
	if filename != "" {
		if _, err := os.Stat(filename); err == nil {
			config, err = LoadFromFile(filename)
			if err != nil {
				return nil, err
			}
		}
	}
	config.ApplyEnv()
	return config, nil
}

// ApplyEnv overrides values from environment variables
func (c *Config) ApplyEnv() {
	c.Backend = getEnv("VISION_BACKEND", c.Backend)
	c.Vision.SubscriptionKey = getEnv("VISION_SUBSCRIPTION_KEY", c.Vision.SubscriptionKey)
	c.Vision.APIRoot = getEnv("VISION_API_ROOT", c.Vision.APIRoot)
	c.Vision.Model = getEnv("VISION_MODEL", c.Vision.Model)
	c.Vision.ServerURL = getEnv("VISION_SERVER_URL", c.Vision.ServerURL)
	c.Vision.Timeout = getDurationEnv("VISION_TIMEOUT", c.Vision.Timeout)
	c.OCR.Enabled = getBoolEnv("NARRATOR_OCR", c.OCR.Enabled)
	c.Speech.Enabled = getBoolEnv("NARRATOR_SPEECH", c.Speech.Enabled)
	c.History.Path = getEnv("NARRATOR_HISTORY_PATH", c.History.Path)
	c.Server.Addr = getEnv("NARRATOR_ADDR", c.Server.Addr)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// the file may carry the subscription key
	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAzure, BackendOllama, BackendLlamaCpp, BackendGoogle:
	default:
		return fmt.Errorf("backend must be one of azure, ollama, llamacpp, gcv (got %q)", c.Backend)
	}

	if c.Vision.Timeout < 0 {
		return fmt.Errorf("vision.timeout must not be negative")
	}

	if c.Upload.MaxDimension < 0 {
		return fmt.Errorf("upload.max_dimension must not be negative")
	}

	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("upload.max_bytes must not be negative")
	}

	if c.Upload.JPEGQuality < 1 || c.Upload.JPEGQuality > 100 {
		return fmt.Errorf("upload.jpeg_quality must be between 1 and 100")
	}

	if c.OCR.Enabled && strings.TrimSpace(c.OCR.Language) == "" {
		return fmt.Errorf("ocr.language cannot be empty when ocr is enabled")
	}

	switch strings.ToLower(c.Output.ImageFormat) {
	case "jpg", "jpeg", "png", "webp":
	default:
		return fmt.Errorf("output.image_format must be jpg, png or webp")
	}

	if c.Output.Quality < 1 || c.Output.Quality > 100 {
		return fmt.Errorf("output.quality must be between 1 and 100")
	}

	switch c.Log.Format {
	case "cli", "json", "text":
	default:
		return fmt.Errorf("log.format must be cli, json or text")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "image-narrator", "config.yaml")
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
