// Package config - koanf backed application configuration.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/pkg/errors"

	"github.com/nvr-ai/go-glasses/controller"
	"github.com/nvr-ai/go-glasses/detector"
	"github.com/nvr-ai/go-glasses/inference"
	"github.com/nvr-ai/go-glasses/models"
	"github.com/nvr-ai/go-glasses/models/model"
	"github.com/nvr-ai/go-glasses/models/postprocess"
)

// ServerConfig defines HTTP server configurations
type ServerConfig struct {
	Port         int    `koanf:"port"`
	Debug        bool   `koanf:"debug"`
	StaticDir    string `koanf:"staticdir"`
	MaxBodyBytes int64  `koanf:"maxbodybytes"`
	Tracing      bool   `koanf:"tracing"`
}

// DetectorConfig defines the obstacle detector
type DetectorConfig struct {
	Model           model.Config           `koanf:"model"`
	Engine          inference.EngineConfig `koanf:"engine"`
	RelevantClasses []string               `koanf:"relevantclasses"`
}

// EngineConfig returns the engine configuration, taking the model path from
// the model section when the engine does not set one.
func (c DetectorConfig) EngineConfig() inference.EngineConfig {
	cfg := c.Engine
	if cfg.ModelPath == "" {
		cfg.ModelPath = c.Model.Path
	}
	return cfg
}

// DetectorOptions returns the detector options.
func (c DetectorConfig) DetectorOptions() detector.Config {
	return detector.Config{RelevantClasses: c.RelevantClasses}
}

// ExpressionConfig defines the facial expression classifier
type ExpressionConfig struct {
	Enabled   bool                   `koanf:"enabled"`
	InputSize int                    `koanf:"inputsize"`
	Engine    inference.EngineConfig `koanf:"engine"`
}

// FaceConfig defines the face detector
type FaceConfig struct {
	CascadePath  string  `koanf:"cascadepath"`
	IoUThreshold float32 `koanf:"iouthreshold"`
}

// StreamConfig defines the camera stream driving the controller
type StreamConfig struct {
	// Camera is the capture device id. A negative id disables the stream.
	Camera int    `koanf:"camera"`
	Mode   string `koanf:"mode"`
}

// AppConfig defines
type AppConfig struct {
	Server     ServerConfig     `koanf:"server"`
	Detector   DetectorConfig   `koanf:"detector"`
	Expression ExpressionConfig `koanf:"expression"`
	Face       FaceConfig       `koanf:"face"`
	Stream     StreamConfig     `koanf:"stream"`
}

// Config - Global variable to export
var Config AppConfig

// defaults are loaded before the configuration file.
var defaults = map[string]any{
	"server.port":         8080,
	"server.debug":        false,
	"server.maxbodybytes": 10 << 20,
	"server.tracing":      false,

	"detector.model.name":                 string(model.ModelNameYOLOv5),
	"detector.model.family":               string(model.ModelFamilyYOLO),
	"detector.model.path":                 "assets/yolov5.tflite",
	"detector.model.labelspath":           "assets/obstacles.txt",
	"detector.model.inputsize":            model.DefaultInputSize,
	"detector.model.confidencethreshold":  model.DefaultConfidenceThreshold,
	"detector.model.nms.iouthreshold":     postprocess.DefaultIoUThreshold,
	"detector.model.nms.numworkers":       1,
	"detector.engine.type":                string(inference.EngineTFLite),
	"detector.engine.threads":             4,
	"detector.engine.quantizedinputscale": 255,

	"expression.enabled":                    true,
	"expression.inputsize":                  models.ExpressionInputSize,
	"expression.engine.type":                string(inference.EngineTFLite),
	"expression.engine.modelpath":           "assets/expression.tflite",
	"expression.engine.threads":             4,
	"expression.engine.quantizedinputscale": 1,

	"face.cascadepath":  detector.DefaultCascadePath,
	"face.iouthreshold": 0.3,

	"stream.camera": -1,
	"stream.mode":   controller.ModeObstacle.String(),
}

// Init - Assign global config to decoded config struct
func Init(filePath string) error {
	cfg, err := Load(filePath)
	if err != nil {
		return err
	}
	Config = cfg
	return nil
}

// Load reads the defaults, the YAML file at filePath (skipped when empty) and
// CFG_ prefixed environment overrides, then validates the result.
//
// Arguments:
//   - filePath: Path of the YAML configuration file.
//
// Returns:
//   - AppConfig: The decoded configuration.
//   - error: An error if a source cannot be read or validation fails.
func Load(filePath string) (AppConfig, error) {
	var cfg AppConfig
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults, "."), nil); err != nil {
		return cfg, errors.Wrap(err, "failed to load defaults")
	}

	if filePath != "" {
		if err := k.Load(file.Provider(filePath), yaml.Parser()); err != nil {
			return cfg, errors.Wrapf(err, "failed to load %s", filePath)
		}
	}

	if err := k.Load(env.ProviderWithValue("CFG_", ".", func(s string, v string) (string, any) {
		key := strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "CFG_")), "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(strings.TrimSpace(v), ",")
		}
		return key, v
	}), nil); err != nil {
		return cfg, errors.Wrap(err, "failed to load environment")
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode configuration")
	}

	return cfg, ValidateConfig(&cfg)
}

// ValidateConfig is for custom validation rules for the configuration
func ValidateConfig(cfg *AppConfig) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return invalid("server.port", "%d is not a valid port", cfg.Server.Port)
	}

	m := cfg.Detector.Model
	if m.InputSize <= 0 || m.InputSize%32 != 0 {
		return invalid("detector.model.inputsize", "%d is not a positive multiple of 32", m.InputSize)
	}
	if !unit(m.ConfidenceThreshold) {
		return invalid("detector.model.confidencethreshold", "%v is outside [0, 1]", m.ConfidenceThreshold)
	}
	if m.NMS != nil && !unit(m.NMS.IoUThreshold) {
		return invalid("detector.model.nms.iouthreshold", "%v is outside [0, 1]", m.NMS.IoUThreshold)
	}
	if m.LabelsPath == "" {
		return invalid("detector.model.labelspath", "is required")
	}
	if err := validateEngine("detector.engine", cfg.Detector.EngineConfig()); err != nil {
		return err
	}

	if cfg.Expression.Enabled {
		if cfg.Expression.InputSize <= 0 {
			return invalid("expression.inputsize", "%d is not positive", cfg.Expression.InputSize)
		}
		if err := validateEngine("expression.engine", cfg.Expression.Engine); err != nil {
			return err
		}
		if cfg.Face.CascadePath == "" {
			return invalid("face.cascadepath", "is required")
		}
		if !unit(cfg.Face.IoUThreshold) {
			return invalid("face.iouthreshold", "%v is outside [0, 1]", cfg.Face.IoUThreshold)
		}
	}

	if _, err := controller.ParseMode(cfg.Stream.Mode); err != nil {
		return invalid("stream.mode", "%v", err)
	}
	return nil
}

func validateEngine(field string, cfg inference.EngineConfig) error {
	if cfg.ModelPath == "" {
		return invalid(field+".modelpath", "is required")
	}
	if !cfg.Type.Valid() {
		return invalid(field+".type", "unsupported engine %q", cfg.Type)
	}
	return nil
}

func invalid(field, format string, args ...any) error {
	return &postprocess.ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

func unit(v float32) bool {
	return v >= 0 && v <= 1
}

var defaultConfigPath = "config/config.yaml"

// ParseConfigFlag allows clients to specify the relative path to the file from
// which the configuration will be loaded.
func ParseConfigFlag() string {
	configPath := flag.String("file", defaultConfigPath, "configuration file")
	if !flag.Parsed() {
		flag.Parse()
	}
	return *configPath
}

// Exists reports whether the configuration file is present.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
