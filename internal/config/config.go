package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/menta2k/camo-age-screener/pkg/types"
)

// Backends selectable in models.backend
const (
	BackendDNN      = "dnn"
	BackendOllama   = "ollama"
	BackendLlamaCpp = "llamacpp"
)

// Config holds the application configuration
type Config struct {
	Dataset  DatasetConfig  `json:"dataset" yaml:"dataset"`
	Output   OutputConfig   `json:"output" yaml:"output"`
	Models   ModelsConfig   `json:"models" yaml:"models"`
	VLM      VLMConfig      `json:"vlm" yaml:"vlm"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Log      LogConfig      `json:"log" yaml:"log"`
}

// DatasetConfig selects the input images
type DatasetConfig struct {
	Dir        string   `json:"dir" yaml:"dir"`
	Extensions []string `json:"extensions" yaml:"extensions"`
}

// OutputConfig controls the CSV sinks
type OutputConfig struct {
	Dir        string `json:"dir" yaml:"dir"`
	FlushEvery int    `json:"flush_every" yaml:"flush_every"` // Rows buffered before a flush; 1 flushes every row
	Sync       bool   `json:"sync" yaml:"sync"`               // fsync after every flush
}

// ModelsConfig holds the inference backend and the OpenCV model files
type ModelsConfig struct {
	Backend        string  `json:"backend" yaml:"backend"`
	FacePrototxt   string  `json:"face_prototxt" yaml:"face_prototxt"`
	FaceWeights    string  `json:"face_weights" yaml:"face_weights"`
	AgePrototxt    string  `json:"age_prototxt" yaml:"age_prototxt"`
	AgeWeights     string  `json:"age_weights" yaml:"age_weights"`
	CamoModel      string  `json:"camo_model" yaml:"camo_model"`
	CamoConfig     string  `json:"camo_config,omitempty" yaml:"camo_config,omitempty"`
	FaceConfidence float64 `json:"face_confidence" yaml:"face_confidence"`
	MinFaceSize    int     `json:"min_face_size" yaml:"min_face_size"`
	PositiveLabel  string  `json:"positive_label" yaml:"positive_label"`
}

// VLMConfig holds the vision-language model backends' settings. An empty URL
// selects the backend's default local address.
type VLMConfig struct {
	URL         string `json:"url" yaml:"url"`
	Model       string `json:"model" yaml:"model"`
	SendSize    int    `json:"send_size" yaml:"send_size"`
	SendQuality int    `json:"send_quality" yaml:"send_quality"`
}

// PipelineConfig controls the per-image loop
type PipelineConfig struct {
	IsolateInferenceErrors bool `json:"isolate_inference_errors" yaml:"isolate_inference_errors"`
	ProgressEvery          int  `json:"progress_every" yaml:"progress_every"`
}

// LogConfig controls the zap logger
type LogConfig struct {
	Level       string `json:"level" yaml:"level"`
	Development bool   `json:"development" yaml:"development"`
}

// Default returns a configuration with default values
func Default() *Config {
	return &Config{
		Dataset: DatasetConfig{
			Extensions: []string{".jpg", ".jpeg", ".png", ".bmp", ".tif", ".tiff", ".webp"},
		},
		Output: OutputConfig{
			FlushEvery: 1,
		},
		Models: ModelsConfig{
			Backend:        BackendDNN,
			FacePrototxt:   filepath.Join("models", "face_detector", "deploy.prototxt"),
			FaceWeights:    filepath.Join("models", "face_detector", "res10_300x300_ssd_iter_140000.caffemodel"),
			AgePrototxt:    filepath.Join("models", "age_detector", "age_deploy.prototxt"),
			AgeWeights:     filepath.Join("models", "age_detector", "age_net.caffemodel"),
			CamoModel:      filepath.Join("models", "camo_detector.onnx"),
			FaceConfidence: 0.5,
			MinFaceSize:    20,
			PositiveLabel:  "camouflage_clothes",
		},
		VLM: VLMConfig{
			Model:       "llava:7b",
			SendSize:    768,
			SendQuality: 85,
		},
		Pipeline: PipelineConfig{
			ProgressEvery: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Fields missing from the file keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if isYAML(filename) {
		err = yaml.Unmarshal(data, config)
	} else {
		err = json.Unmarshal(data, config)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration as YAML or JSON depending on the extension
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	if isYAML(filename) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// LoadEnv reads KEY=VALUE pairs from the given .env files (".env" when none
// is given) into the process environment. Missing files are ignored and
// variables already set are never overwritten.
func LoadEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, f := range filenames {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides configuration values from SCREENER_* environment variables
func (c *Config) ApplyEnv() {
	c.Dataset.Dir = getEnv("SCREENER_DATASET", c.Dataset.Dir)
	c.Dataset.Extensions = getEnvAsList("SCREENER_EXTENSIONS", c.Dataset.Extensions)

	c.Output.Dir = getEnv("SCREENER_OUTPUT", c.Output.Dir)
	c.Output.FlushEvery = getEnvAsInt("SCREENER_FLUSH_EVERY", c.Output.FlushEvery)
	c.Output.Sync = getEnvAsBool("SCREENER_SYNC", c.Output.Sync)

	c.Models.Backend = getEnv("SCREENER_BACKEND", c.Models.Backend)
	c.Models.FacePrototxt = getEnv("SCREENER_FACE_PROTOTXT", c.Models.FacePrototxt)
	c.Models.FaceWeights = getEnv("SCREENER_FACE_WEIGHTS", c.Models.FaceWeights)
	c.Models.AgePrototxt = getEnv("SCREENER_AGE_PROTOTXT", c.Models.AgePrototxt)
	c.Models.AgeWeights = getEnv("SCREENER_AGE_WEIGHTS", c.Models.AgeWeights)
	c.Models.CamoModel = getEnv("SCREENER_CAMO_MODEL", c.Models.CamoModel)
	c.Models.CamoConfig = getEnv("SCREENER_CAMO_CONFIG", c.Models.CamoConfig)
	c.Models.FaceConfidence = getEnvAsFloat("SCREENER_FACE_CONFIDENCE", c.Models.FaceConfidence)
	c.Models.MinFaceSize = getEnvAsInt("SCREENER_MIN_FACE_SIZE", c.Models.MinFaceSize)
	c.Models.PositiveLabel = getEnv("SCREENER_POSITIVE_LABEL", c.Models.PositiveLabel)

	c.VLM.URL = getEnv("SCREENER_VLM_URL", c.VLM.URL)
	c.VLM.Model = getEnv("SCREENER_VLM_MODEL", c.VLM.Model)
	c.VLM.SendSize = getEnvAsInt("SCREENER_VLM_SEND_SIZE", c.VLM.SendSize)
	c.VLM.SendQuality = getEnvAsInt("SCREENER_VLM_SEND_QUALITY", c.VLM.SendQuality)

	c.Pipeline.IsolateInferenceErrors = getEnvAsBool("SCREENER_ISOLATE_INFERENCE_ERRORS", c.Pipeline.IsolateInferenceErrors)
	c.Pipeline.ProgressEvery = getEnvAsInt("SCREENER_PROGRESS_EVERY", c.Pipeline.ProgressEvery)

	c.Log.Level = getEnv("SCREENER_LOG_LEVEL", c.Log.Level)
	c.Log.Development = getEnvAsBool("SCREENER_LOG_DEVELOPMENT", c.Log.Development)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Dataset.Extensions) == 0 {
		return fmt.Errorf("dataset.extensions cannot be empty")
	}

	if c.Output.FlushEvery < 1 {
		return fmt.Errorf("output.flush_every must be positive")
	}

	switch c.Models.Backend {
	case BackendDNN:
		if c.Models.FaceWeights == "" || c.Models.AgeWeights == "" || c.Models.CamoModel == "" {
			return fmt.Errorf("models: face_weights, age_weights and camo_model are required for the dnn backend")
		}
	case BackendOllama, BackendLlamaCpp:
		if c.VLM.Model == "" {
			return fmt.Errorf("vlm.model is required for the %s backend", c.Models.Backend)
		}
	default:
		return fmt.Errorf("models.backend must be one of %s, %s, %s", BackendDNN, BackendOllama, BackendLlamaCpp)
	}

	if c.Models.FaceConfidence < 0 || c.Models.FaceConfidence > 1 {
		return fmt.Errorf("models.face_confidence must be between 0 and 1")
	}

	if c.Models.MinFaceSize < 0 {
		return fmt.Errorf("models.min_face_size cannot be negative")
	}

	if !slices.Contains(types.CamoLabels, c.Models.PositiveLabel) {
		return fmt.Errorf("models.positive_label must be one of %v, got %q", types.CamoLabels, c.Models.PositiveLabel)
	}

	if c.VLM.SendQuality < 1 || c.VLM.SendQuality > 100 {
		return fmt.Errorf("vlm.send_quality must be between 1 and 100")
	}

	if c.Pipeline.ProgressEvery < 1 {
		return fmt.Errorf("pipeline.progress_every must be positive")
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".config", "camo-age-screener", "config.yaml")
}

func isYAML(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var list []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			list = append(list, item)
		}
	}
	if len(list) == 0 {
		return defaultValue
	}
	return list
}
