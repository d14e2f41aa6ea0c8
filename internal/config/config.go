// Package config loads the transcoding service's process-wide
// configuration: a YAML file overridden field-by-field by environment
// variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Manager     ManagerConfig     `yaml:"manager"`
	MediaDriver MediaDriverConfig `yaml:"media_driver"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig controls the HTTP/WebSocket listener.
type ServerConfig struct {
	Host               string        `yaml:"host" env:"TRANSCODER_HOST" default:"0.0.0.0"`
	Port               int           `yaml:"port" env:"TRANSCODER_PORT" default:"8080"`
	ReadTimeout        time.Duration `yaml:"read_timeout" env:"TRANSCODER_READ_TIMEOUT" default:"30s"`
	WriteTimeout       time.Duration `yaml:"write_timeout" env:"TRANSCODER_WRITE_TIMEOUT" default:"0s"`
	MaxUploadBodyBytes int64         `yaml:"max_upload_body_bytes" env:"TRANSCODER_MAX_UPLOAD_BODY_BYTES" default:"67108864"`
}

// StorageConfig controls where chunks, assembled videos, and encoded
// outputs live on disk.
type StorageConfig struct {
	StagingDir string `yaml:"staging_dir" env:"TRANSCODER_STAGING_DIR" default:"./data/staging"`
	VideosDir  string `yaml:"videos_dir" env:"TRANSCODER_VIDEOS_DIR" default:"./data/videos"`
	OutputDir  string `yaml:"output_dir" env:"TRANSCODER_OUTPUT_DIR" default:"./data/output"`
}

// ManagerConfig controls the Transcode Manager's worker pool and admission.
type ManagerConfig struct {
	WorkerCount          int           `yaml:"worker_count" env:"TRANSCODER_WORKER_COUNT" default:"5"`
	DefaultFormats       []string      `yaml:"default_formats" env:"TRANSCODER_DEFAULT_FORMATS" default:"1080p,720p,480p,360p"`
	MemoryThreshold      float64       `yaml:"memory_threshold" env:"TRANSCODER_MEMORY_THRESHOLD" default:"90.0"`
	CPUThreshold         float64       `yaml:"cpu_threshold" env:"TRANSCODER_CPU_THRESHOLD" default:"95.0"`
	EnableAdmissionGuard bool          `yaml:"enable_admission_guard" env:"TRANSCODER_ADMISSION_GUARD" default:"true"`
	SampleInterval       time.Duration `yaml:"sample_interval" env:"TRANSCODER_RESOURCE_SAMPLE_INTERVAL" default:"5s"`
}

// MediaDriverConfig locates the probe/encode binaries and bounds the probe.
type MediaDriverConfig struct {
	ProbeBinary   string        `yaml:"probe_binary" env:"TRANSCODER_PROBE_BINARY" default:"ffprobe"`
	EncodeBinary  string        `yaml:"encode_binary" env:"TRANSCODER_ENCODE_BINARY" default:"ffmpeg"`
	ProbeTimeout  time.Duration `yaml:"probe_timeout" env:"TRANSCODER_PROBE_TIMEOUT" default:"30s"`
}

// LoggingConfig controls go-hclog output.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"TRANSCODER_LOG_LEVEL" default:"info"`
	JSON       bool   `yaml:"json" env:"TRANSCODER_LOG_JSON" default:"false"`
	WithSource bool   `yaml:"with_source" env:"TRANSCODER_LOG_SOURCE" default:"false"`
}

// Default returns the built-in configuration with environment variable
// overrides applied; no config file is read.
func Default() *Config {
	c := &Config{}
	if err := loadStructFromEnv(reflect.ValueOf(c).Elem()); err != nil {
		panic(fmt.Sprintf("config: built-in defaults are invalid: %v", err))
	}
	if c.Manager.WorkerCount <= 0 {
		c.Manager.WorkerCount = min(max(1, runtime.NumCPU()), 16)
	}
	return c
}

// Load builds a Config starting from Default, applying the YAML file at
// path (if non-empty and present) and then environment variable
// overrides: file values beat built-in defaults, env values beat both.
func Load(path string) (*Config, error) {
	c := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := loadStructFromEnvWithFallback(reflect.ValueOf(c).Elem()); err != nil {
		return nil, fmt.Errorf("config: applying environment overrides: %w", err)
	}

	if c.Manager.WorkerCount <= 0 {
		c.Manager.WorkerCount = min(max(1, runtime.NumCPU()), 16)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate rejects configurations that would make the rest of the
// service misbehave rather than fail fast.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Manager.WorkerCount < 1 {
		return fmt.Errorf("config: worker_count must be >= 1")
	}
	if c.MediaDriver.ProbeTimeout <= 0 {
		return fmt.Errorf("config: probe_timeout must be positive")
	}
	if c.Storage.StagingDir == "" || c.Storage.VideosDir == "" || c.Storage.OutputDir == "" {
		return fmt.Errorf("config: storage directories must be set")
	}
	return nil
}

// loadStructFromEnv applies the "env" tag when set and the "default" tag
// otherwise to every field, overwriting any already-set value; used to
// compute Default().
func loadStructFromEnv(v reflect.Value) error {
	return walkFields(v, false)
}

// loadStructFromEnvWithFallback applies the "env" tag when set, falling
// back to "default" only for zero-valued fields, so that file-supplied
// values aren't clobbered by built-in defaults.
func loadStructFromEnvWithFallback(v reflect.Value) error {
	return walkFields(v, true)
}

func walkFields(v reflect.Value, preserveExisting bool) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)
		if !field.CanSet() {
			continue
		}
		if field.Kind() == reflect.Struct {
			if err := walkFields(field, preserveExisting); err != nil {
				return err
			}
			continue
		}

		envTag := fieldType.Tag.Get("env")
		defaultTag := fieldType.Tag.Get("default")

		envValue := ""
		if envTag != "" {
			envValue = os.Getenv(envTag)
		}

		if envValue == "" {
			if preserveExisting && !field.IsZero() {
				continue
			}
			envValue = defaultTag
		}
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("field %s: %w", fieldType.Name, err)
		}
	}
	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
			return nil
		}
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element kind %v", field.Type().Elem().Kind())
		}
		parts := strings.Split(value, ",")
		for i, p := range parts {
			parts[i] = strings.TrimSpace(p)
		}
		field.Set(reflect.ValueOf(parts))
	default:
		return fmt.Errorf("unsupported field kind %v", field.Kind())
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
