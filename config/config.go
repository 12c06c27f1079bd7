package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	Debug        bool          `koanf:"debug"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`
	WriteTimeout time.Duration `koanf:"writetimeout"`
	CORSOrigins  []string      `koanf:"corsorigins"`
}

// Addr returns the listen address of the HTTP server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig related to the detection model and the ONNX runtime
type ModelConfig struct {
	Path           string        `koanf:"path"`
	Library        string        `koanf:"library"`
	Labels         string        `koanf:"labels"`
	InputSize      int           `koanf:"inputsize"`
	ConfThreshold  float32       `koanf:"confthreshold"`
	IoUThreshold   float32       `koanf:"iouthreshold"`
	MaxDetections  int           `koanf:"maxdetections"`
	PoolSize       int           `koanf:"poolsize"`
	Threads        int           `koanf:"threads"`
	AcquireTimeout time.Duration `koanf:"acquiretimeout"`
}

// ImageConfig related to incoming image payloads
type ImageConfig struct {
	MaxBytes   int  `koanf:"maxbytes"`
	MaxPixels  int  `koanf:"maxpixels"`
	AutoOrient bool `koanf:"autoorient"`
}

// AppConfig defines
type AppConfig struct {
	Server ServerConfig `koanf:"server"`
	Model  ModelConfig  `koanf:"model"`
	Image  ImageConfig  `koanf:"image"`
}

// Config - Global variable to export
var Config AppConfig

var defaults = map[string]any{
	"server.host":          "0.0.0.0",
	"server.port":          8000,
	"server.readtimeout":   "60s",
	"server.writetimeout":  "60s",
	"server.corsorigins":   []string{"*"},
	"model.path":           "best.onnx",
	"model.inputsize":      640,
	"model.confthreshold":  0.5,
	"model.iouthreshold":   0.7,
	"model.maxdetections":  300,
	"model.poolsize":       4,
	"model.acquiretimeout": "5s",
	"image.maxbytes":       10 << 20,
	"image.maxpixels":      89478485,
}

// listKeys are the settings given as comma separated lists in the environment.
var listKeys = map[string]bool{
	"server.corsorigins": true,
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}
	Config = *cfg
	return nil
}

// Load reads defaults, the YAML file at filePath (if any), a .env file and
// CFG_-prefixed environment variables, in that order of precedence.
func Load(filePath string) (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	k := koanf.New(".")
	parser := yaml.Parser()

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return nil, err
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), parser); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", filePath, err)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if listKeys[key] {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return nil, err
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	switch {
	case cfg.Server.Port <= 0 || cfg.Server.Port > 65535:
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	case cfg.Model.InputSize <= 0 || cfg.Model.InputSize%32 != 0:
		return fmt.Errorf("model.inputsize must be a positive multiple of 32: %d", cfg.Model.InputSize)
	case cfg.Model.ConfThreshold < 0 || cfg.Model.ConfThreshold > 1:
		return fmt.Errorf("model.confthreshold must be within [0,1]: %v", cfg.Model.ConfThreshold)
	case cfg.Model.IoUThreshold <= 0 || cfg.Model.IoUThreshold > 1:
		return fmt.Errorf("model.iouthreshold must be within (0,1]: %v", cfg.Model.IoUThreshold)
	case cfg.Model.MaxDetections <= 0:
		return fmt.Errorf("model.maxdetections must be positive: %d", cfg.Model.MaxDetections)
	case cfg.Model.PoolSize <= 0:
		return fmt.Errorf("model.poolsize must be positive: %d", cfg.Model.PoolSize)
	case cfg.Image.MaxBytes <= 0:
		return fmt.Errorf("image.maxbytes must be positive: %d", cfg.Image.MaxBytes)
	case cfg.Image.MaxPixels <= 0:
		return fmt.Errorf("image.maxpixels must be positive: %d", cfg.Image.MaxPixels)
	}
	return nil
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := fs.String("file", defaultConfigPath, "configuration file")
	_ = fs.Parse(os.Args[1:])

	return *configPath
}
