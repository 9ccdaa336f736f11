// Command particles runs the GPU particle simulation in a window, or headless for benchmarking.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Carmen-Shannon/oxy-particles/common"
	"github.com/Carmen-Shannon/oxy-particles/config"
	"github.com/Carmen-Shannon/oxy-particles/engine"
	"github.com/Carmen-Shannon/oxy-particles/engine/host"
	"github.com/Carmen-Shannon/oxy-particles/engine/host/wgpu_host"
	"github.com/Carmen-Shannon/oxy-particles/engine/logger"
	"github.com/Carmen-Shannon/oxy-particles/engine/metrics"
	"github.com/Carmen-Shannon/oxy-particles/engine/resource"
	"github.com/Carmen-Shannon/oxy-particles/engine/window"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type options struct {
	configPath  string
	writeConfig string
	headless    bool
	maxFrames   uint64
	fpsLimit    float64
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config.yaml (empty = use defaults)")
	flag.StringVar(&opts.writeConfig, "write-config", "", "Write the effective configuration to this path and exit")
	flag.BoolVar(&opts.headless, "headless", false, "Run without a window or surface")
	flag.Uint64Var(&opts.maxFrames, "max-frames", 0, "Stop after N frames (0 = unlimited)")
	flag.Float64Var(&opts.fpsLimit, "fps", 0, "Frame rate cap (0 = uncapped)")
	flag.Parse()

	if err := config.Init(opts.configPath); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	if opts.writeConfig != "" {
		if err := cfg.WriteYAML(opts.writeConfig); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write config: %v\n", err)
			os.Exit(1)
		}
		return
	}

	log, err := logger.New(logger.Config{
		Environment: cfg.Log.Environment,
		Level:       cfg.Log.Level,
		Service:     "particles",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, opts, log); err != nil {
		log.Error("particles exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, opts options, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collectors *metrics.Collectors
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		c, err := metrics.New(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		collectors = c

		srv := metrics.NewServer(cfg.Metrics.Address, reg)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server exited", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		log.Info("serving metrics", zap.String("address", cfg.Metrics.Address))
	}

	prog, err := loadProgram(cfg.GPU.ShaderPath)
	if err != nil {
		return fmt.Errorf("failed to load program: %w", err)
	}

	sim := cfg.Simulation
	d := cfg.Derived
	seed := sim.Seed
	seedOpts := func() seedOptions {
		return seedOptions{
			Count:   sim.ParticleCount,
			BoundsW: d.BoundsW,
			BoundsH: d.BoundsH,
			Margin:  float32(sim.ParticleRadius),
			Seed:    seed,
			Workers: sim.SeedWorkers,
		}
	}
	wells := defaultWells(d.BoundsW, d.BoundsH)
	ctl := &controls{}

	instance := wgpu_host.NewInstance()
	defer instance.Release()

	engineOptions := []engine.EngineBuilderOption{
		engine.WithInstance(instance),
		engine.WithProgram(prog),
		engine.WithSize(uint32(cfg.Window.Width), uint32(cfg.Window.Height)),
		engine.WithCapabilities(capabilities(cfg)),
		engine.WithSimulation(engine.SimulationParams{
			ParticleCount:       sim.ParticleCount,
			ParticleStride:      particleStride,
			AuxStride:           auxStride,
			GridCellCount:       d.GridCellCount,
			WorkgroupSize:       sim.WorkgroupSize,
			ConstrainIterations: sim.ConstrainIterations,
		}),
		engine.WithPresent(newPresent()),
		engine.WithUniforms(newUniforms(cfg, ctl, len(wells))),
		engine.WithParticles(seedParticles(seedOpts(), log)),
		engine.WithArray(moduleAttractor, packWells(wells)),
		engine.WithLogger(log),
		engine.WithMetrics(collectors),
		engine.WithManagerOptions(
			resource.WithAcquireTimeout(cfg.GPU.AcquireTimeout),
			resource.WithTeardownWait(cfg.GPU.TeardownWait),
			resource.WithStrictPipelines(cfg.GPU.StrictPipelines),
		),
		engine.WithProfiling(cfg.Profiler.Enabled, cfg.Profiler.Interval),
		engine.WithReadback(cfg.Diagnostics.ReadbackInterval, func(data []byte) {
			mean, peak := speedStats(data)
			log.Info("particle read-back", zap.Float64("mean_speed", mean), zap.Float64("max_speed", peak))
		}),
		engine.WithFrameLimit(opts.fpsLimit),
		engine.WithMaxFrames(opts.maxFrames),
	}

	var win window.Window
	if !opts.headless {
		win, err = window.NewWindow(
			window.WithTitle(cfg.Window.Title),
			window.WithSize(cfg.Window.Width, cfg.Window.Height),
			window.WithMinSize(320, 240),
		)
		if err != nil {
			return fmt.Errorf("failed to open window: %w", err)
		}
		defer func() { _ = win.Close() }()

		surface, err := wgpu_host.NewSurface(instance, win.SurfaceDescriptor())
		if err != nil {
			return fmt.Errorf("failed to create surface: %w", err)
		}
		engineOptions = append(engineOptions,
			engine.WithSurface(surface),
			engine.WithDisplay(win),
			engine.WithFrameCallback(titleUpdater(win, cfg.Window.Title)),
		)
	}

	eng, err := engine.NewEngine(engineOptions...)
	if err != nil {
		return err
	}

	if win != nil {
		win.SetCursorCallback(ctl.setCursor)
		win.SetKeyDownCallback(func(keyCode uint32) {
			switch keyCode {
			case common.KeySpace:
				eng.SetPaused(!eng.Paused())
				log.Info("simulation toggled", zap.Bool("paused", eng.Paused()))
			case common.KeyR:
				seed++
				if err := eng.SetParticles(seedParticles(seedOpts(), log)); err != nil {
					log.Warn("reseed failed", zap.Error(err))
					return
				}
				log.Info("particles reseeded", zap.Int64("seed", seed))
			default:
				if n, ok := common.DigitKey(keyCode); ok {
					eng.SetConstrainIterations(n)
					log.Info("constrain iterations changed", zap.Uint32("iterations", n))
				}
			}
		})
	}

	log.Info("starting particles",
		zap.Uint32("particles", sim.ParticleCount),
		zap.Uint32("grid_w", d.GridW),
		zap.Uint32("grid_h", d.GridH),
		zap.Bool("headless", opts.headless),
	)
	return eng.Run(ctx)
}

// capabilities derives the adapter requirements from the configuration and the built-in program.
func capabilities(cfg *config.Config) resource.Capabilities {
	presentMode := host.PresentModeImmediate
	if cfg.Window.VSync {
		presentMode = host.PresentModeFifo
	}
	return resource.Capabilities{
		PowerPreference:      powerPreference(cfg.GPU.PowerPreference),
		ForceFallbackAdapter: cfg.GPU.ForceFallbackAdapter,
		// particles, wells, grid counts, grid cells, previous positions
		MinStorageBuffersPerStage:   5,
		MinStorageBufferBindingSize: uint64(cfg.Simulation.ParticleCount) * particleStride,
		PresentMode:                 presentMode,
	}
}

func powerPreference(name string) host.PowerPreference {
	switch name {
	case "low-power":
		return host.PowerPreferenceLowPower
	case "high-performance":
		return host.PowerPreferenceHighPerformance
	default:
		return host.PowerPreferenceUndefined
	}
}

// titleUpdater shows the frame rate in the title bar, refreshed once a second.
func titleUpdater(win window.Window, title string) func(*engine.FrameResult) {
	var frames int
	last := time.Now()
	return func(*engine.FrameResult) {
		frames++
		if elapsed := time.Since(last); elapsed >= time.Second {
			win.SetTitle(fmt.Sprintf("%s | %.0f fps", title, float64(frames)/elapsed.Seconds()))
			frames = 0
			last = time.Now()
		}
	}
}
