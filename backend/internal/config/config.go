// Package config loads the physsync YAML configuration.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultMinTimestepMs  = 16.667
	DefaultMaxTimestepMs  = 33.333
	DefaultTypicalLength  = 100.0
	DefaultTypicalSpeed   = 1000.0
	DefaultDensity        = 0.001
	DefaultGravityY       = -981.0
	DefaultDropHeight     = 500.0
	DefaultFrames         = 240
	DefaultWSAddr         = ":8080"
	DefaultMetricsAddr    = ":9090"
	DefaultGRPCAddr       = ":50051"
	DefaultTracingService = "physsync"
)

// ErrInvalid marks a structurally broken configuration.
var ErrInvalid = errors.New("config: invalid")

type Config struct {
	World   WorldConfig   `yaml:"world"`
	Server  ServerConfig  `yaml:"server"`
	Log     LogConfig     `yaml:"log"`
	Tracing TracingConfig `yaml:"tracing"`
	Demo    DemoConfig    `yaml:"demo"`
}

// WorldConfig holds the simulation properties of a World. Gravity is in
// scene units per second squared.
type WorldConfig struct {
	Gravity        [3]float64 `yaml:"gravity"`
	TypicalLength  float64    `yaml:"typical_length"`
	TypicalSpeed   float64    `yaml:"typical_speed"`
	DefaultDensity float64    `yaml:"default_density"`
	MinTimestepMs  float64    `yaml:"min_timestep_ms"`
	MaxTimestepMs  float64    `yaml:"max_timestep_ms"`
	EnableCCD      bool       `yaml:"enable_ccd"`
	Running        bool       `yaml:"running"`
}

type ServerConfig struct {
	WSAddr      string `yaml:"ws_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	GRPCAddr    string `yaml:"grpc_addr"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name"`
	Exporter    string  `yaml:"exporter"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DemoConfig drives the demo scene used by serve and drop.
type DemoConfig struct {
	DropHeight float64 `yaml:"drop_height"`
	Frames     int     `yaml:"frames"`
}

func DefaultConfig() *Config {
	return &Config{
		World: WorldConfig{
			Gravity:        [3]float64{0, DefaultGravityY, 0},
			TypicalLength:  DefaultTypicalLength,
			TypicalSpeed:   DefaultTypicalSpeed,
			DefaultDensity: DefaultDensity,
			MinTimestepMs:  DefaultMinTimestepMs,
			MaxTimestepMs:  DefaultMaxTimestepMs,
			Running:        true,
		},
		Server: ServerConfig{
			WSAddr:      DefaultWSAddr,
			MetricsAddr: DefaultMetricsAddr,
			GRPCAddr:    DefaultGRPCAddr,
		},
		Log: LogConfig{Level: "info", Format: "text"},
		Tracing: TracingConfig{
			ServiceName: DefaultTracingService,
			Exporter:    "stdout",
			SampleRatio: 1,
		},
		Demo: DemoConfig{DropHeight: DefaultDropHeight, Frames: DefaultFrames},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// ApplyEnv overrides fields from PHYSSYNC_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PHYSSYNC_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("PHYSSYNC_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("PHYSSYNC_WS_ADDR"); v != "" {
		c.Server.WSAddr = v
	}
	if v := os.Getenv("PHYSSYNC_METRICS_ADDR"); v != "" {
		c.Server.MetricsAddr = v
	}
	if v := os.Getenv("PHYSSYNC_GRPC_ADDR"); v != "" {
		c.Server.GRPCAddr = v
	}
	if v := os.Getenv("PHYSSYNC_TRACING_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			c.Tracing.Enabled = enabled
		}
	}
}

// Validate rejects values no component can recover from. Timestep and
// typical length problems are left to the World, which clamps them.
func (c *Config) Validate() error {
	var problems []string
	if c.Server.WSAddr == "" {
		problems = append(problems, "server.ws_addr is empty")
	}
	if c.Server.MetricsAddr == "" {
		problems = append(problems, "server.metrics_addr is empty")
	}
	if c.Server.GRPCAddr == "" {
		problems = append(problems, "server.grpc_addr is empty")
	}
	if c.Demo.Frames < 0 {
		problems = append(problems, fmt.Sprintf("demo.frames %d is negative", c.Demo.Frames))
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		problems = append(problems, fmt.Sprintf("tracing.sample_ratio %v outside [0,1]", c.Tracing.SampleRatio))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func (w WorldConfig) MinTimestep() time.Duration {
	return msToDuration(w.MinTimestepMs)
}

func (w WorldConfig) MaxTimestep() time.Duration {
	return msToDuration(w.MaxTimestepMs)
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(math.Round(ms * float64(time.Millisecond)))
}
