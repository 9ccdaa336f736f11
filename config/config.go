// Package config provides configuration loading and access for the particle demo.
package config

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all demo configuration parameters.
type Config struct {
	Window      WindowConfig      `yaml:"window"`
	GPU         GPUConfig         `yaml:"gpu"`
	Simulation  SimulationConfig  `yaml:"simulation"`
	Log         LogConfig         `yaml:"log"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Profiler    ProfilerConfig    `yaml:"profiler"`
	Diagnostics DiagnosticsConfig `yaml:"diagnostics"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WindowConfig holds display settings.
type WindowConfig struct {
	Title  string `yaml:"title"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	VSync  bool   `yaml:"vsync"`
}

// GPUConfig holds device acquisition and pipeline settings.
type GPUConfig struct {
	AcquireTimeout       time.Duration `yaml:"acquire_timeout"`
	TeardownWait         time.Duration `yaml:"teardown_wait"`
	PowerPreference      string        `yaml:"power_preference"` // "low-power", "high-performance" or empty
	ForceFallbackAdapter bool          `yaml:"force_fallback_adapter"`
	StrictPipelines      bool          `yaml:"strict_pipelines"` // Fail the frame on any kernel compile error
	ShaderPath           string        `yaml:"shader_path"`      // Empty uses the built-in simulation program
}

// SimulationConfig holds particle simulation parameters.
type SimulationConfig struct {
	ParticleCount       uint32     `yaml:"particle_count"`
	WorkgroupSize       uint32     `yaml:"workgroup_size"`
	ConstrainIterations uint32     `yaml:"constrain_iterations"`
	GridCellSize        float64    `yaml:"grid_cell_size"`
	BoundsWidth         float64    `yaml:"bounds_width"`  // 0 = use window width
	BoundsHeight        float64    `yaml:"bounds_height"` // 0 = use window height
	Gravity             [2]float64 `yaml:"gravity"`
	Damping             float64    `yaml:"damping"`
	DT                  float64    `yaml:"dt"`
	ParticleRadius      float64    `yaml:"particle_radius"`
	Fade                float64    `yaml:"fade"` // Scene trail decay per frame
	Seed                int64      `yaml:"seed"`
	SeedWorkers         int        `yaml:"seed_workers"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Environment string `yaml:"environment"`
	Level       string `yaml:"level"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// ProfilerConfig holds frame profiler settings.
type ProfilerConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// DiagnosticsConfig holds GPU read-back settings.
type DiagnosticsConfig struct {
	ReadbackInterval time.Duration `yaml:"readback_interval"` // 0 disables particle read-back
}

// DerivedConfig holds values computed from other config values.
type DerivedConfig struct {
	BoundsW       float32
	BoundsH       float32
	GridW         uint32
	GridH         uint32
	GridCellCount uint32
	DT32          float32
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Only fields present in the file are overwritten
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	cfg.computeDerived()
	return cfg, nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	c.Derived.DT32 = float32(c.Simulation.DT)

	boundsW := c.Simulation.BoundsWidth
	if boundsW <= 0 {
		boundsW = float64(c.Window.Width)
	}
	boundsH := c.Simulation.BoundsHeight
	if boundsH <= 0 {
		boundsH = float64(c.Window.Height)
	}
	c.Derived.BoundsW = float32(boundsW)
	c.Derived.BoundsH = float32(boundsH)

	c.Derived.GridW, c.Derived.GridH, c.Derived.GridCellCount = 0, 0, 0
	if c.Simulation.GridCellSize > 0 && boundsW > 0 && boundsH > 0 {
		c.Derived.GridW = uint32(math.Ceil(boundsW / c.Simulation.GridCellSize))
		c.Derived.GridH = uint32(math.Ceil(boundsH / c.Simulation.GridCellSize))
		c.Derived.GridCellCount = c.Derived.GridW * c.Derived.GridH
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
