package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"gazecollect/internal/camera"
	"gazecollect/internal/caret"
	"gazecollect/internal/collector"
	"gazecollect/internal/config"
	"gazecollect/internal/health"
	"gazecollect/internal/input"
	"gazecollect/internal/logging"
	"gazecollect/internal/metrics"
	"gazecollect/internal/status"
	"gazecollect/internal/store"
)

// runFlags are command-line overrides for the config file. Only flags the
// user set are applied, so hot reloads keep them.
type runFlags struct {
	fs *flag.FlagSet

	config        string
	output        string
	camera        int
	requireCamera bool
	throttle      time.Duration
	anchor        string
	strategies    []string
	recordKeys    bool
	db            string
	logLevel      string
	metricsListen string
	noWatch       bool
}

func parseRunFlags(args []string) *runFlags {
	f := &runFlags{fs: flag.NewFlagSet("run", flag.ExitOnError)}
	fs := f.fs
	fs.StringVarP(&f.config, "config", "c", "", "Config file")
	fs.StringVarP(&f.output, "output", "o", "", "Directory receiving mouse_data/ and keyboard_data/")
	fs.IntVar(&f.camera, "camera", 0, "Camera device index")
	fs.BoolVar(&f.requireCamera, "require-camera", false, "Exit if the camera cannot be opened")
	fs.DurationVar(&f.throttle, "throttle", caret.DefaultThrottle, "Reuse a caret position for this long")
	fs.StringVar(&f.anchor, "anchor", "top", "Caret point: top or middle")
	fs.StringSliceVar(&f.strategies, "strategies", nil, "Caret lookup chain (gui-thread,caret-pos,cursor)")
	fs.BoolVar(&f.recordKeys, "record-keys", false, "Store and print typed characters")
	fs.StringVar(&f.db, "db", "", "Capture index path")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	fs.StringVar(&f.metricsListen, "metrics-listen", "", "Serve metrics and health on this address")
	fs.BoolVar(&f.noWatch, "no-watch", false, "Do not reload the config file on change")
	fs.Parse(args)
	return f
}

func (f *runFlags) apply(cfg *config.Config) {
	if f.fs.Changed("output") {
		cfg.Capture.OutputDir = f.output
	}
	if f.fs.Changed("camera") {
		cfg.Camera.Device = f.camera
	}
	if f.fs.Changed("require-camera") {
		cfg.Camera.Required = f.requireCamera
	}
	if f.fs.Changed("throttle") {
		cfg.Caret.ThrottleMs = int(f.throttle / time.Millisecond)
	}
	if f.fs.Changed("anchor") {
		cfg.Caret.Anchor = f.anchor
	}
	if f.fs.Changed("strategies") {
		cfg.Caret.Strategies = f.strategies
	}
	if f.fs.Changed("record-keys") {
		cfg.Capture.RecordKeys = f.recordKeys
	}
	if f.fs.Changed("db") {
		cfg.Storage.Path = f.db
	}
	if f.fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if f.fs.Changed("metrics-listen") {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.metricsListen
	}
}

func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	format, err := logging.ParseFormat(cfg.Logging.Format)
	if err != nil {
		return nil, err
	}
	return logging.New(&logging.Config{
		Level:      level,
		Format:     format,
		Output:     cfg.Logging.Output,
		FilePath:   cfg.Logging.FilePath,
		MaxSizeMB:  int64(cfg.Logging.MaxSizeMB),
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
		RecordKeys: cfg.Capture.RecordKeys,
		Component:  "gazecollect",
	})
}

// newCrashHandler returns the event-boundary crash handler after removing
// reports older than the log retention.
func newCrashHandler(cfg *config.Config, logger *slog.Logger) *logging.CrashHandler {
	crash := logging.NewCrashHandler(&logging.CrashHandlerConfig{
		CrashDir:  cfg.Logging.CrashDir,
		Version:   Version,
		Component: "collector",
		Logger:    logger,
	})
	if cfg.Logging.MaxAgeDays > 0 {
		removed, err := crash.PruneReports(time.Duration(cfg.Logging.MaxAgeDays) * 24 * time.Hour)
		if err != nil {
			logger.Warn("prune crash reports", "dir", cfg.Logging.CrashDir, "error", err)
		} else if removed > 0 {
			logger.Info("pruned crash reports", "removed", removed)
		}
	}
	return crash
}

// newReporter prints status lines to w. They also reach the log when it
// goes to a file.
func newReporter(cfg *config.Config, w io.Writer, logger *slog.Logger) status.Reporter {
	var r status.Reporter = status.NewConsole(w)
	if cfg.Logging.Output == "file" || cfg.Logging.Output == "both" {
		r = status.Tee(r, status.Log(logger))
	}
	return r
}

func cmdRun(args []string) {
	flags := parseRunFlags(args)

	cfg, cfgPath := loadConfig(flags.config)
	flags.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fatalf("Error: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fatalf("Error setting up logging: %v", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)

	if err := run(cfg, cfgPath, flags, logger); err != nil {
		logger.Error("collector stopped", "error", err)
		logger.Close()
		fatalf("Error: %v", err)
	}
}

func run(cfg *config.Config, cfgPath string, flags *runFlags, logger *logging.Logger) error {
	crash := newCrashHandler(cfg, logger.Component("crash"))
	console := newReporter(cfg, os.Stdout, logger.Component("status"))
	console.Report(status.Banner)

	pointer := caret.NewPointer()
	platform, err := caret.NewPlatform(caret.PlatformOptions{
		Pointer: pointer,
		Logger:  logger.Component("caret"),
	})
	if err != nil {
		return fmt.Errorf("caret platform: %w", err)
	}

	strategies, err := caret.ParseStrategies(cfg.Caret.Strategies)
	if err != nil {
		return err
	}
	anchor, err := caret.ParseAnchor(cfg.Caret.Anchor)
	if err != nil {
		return err
	}
	resolver, err := caret.NewResolver(caret.Options{
		Platform:            platform,
		Throttle:            cfg.Throttle(),
		Anchor:              anchor,
		Strategies:          strategies,
		CapabilityCacheSize: cfg.Caret.CapabilityCacheSize,
		Logger:              logger.Component("caret"),
	})
	if err != nil {
		return err
	}

	device, err := camera.Open(cfg.Camera.Device)
	if err != nil {
		if cfg.Camera.Required {
			return fmt.Errorf("open camera %d: %w", cfg.Camera.Device, err)
		}
		logger.Warn("camera unavailable, running without frames", "device", cfg.Camera.Device, "error", err)
		device = camera.Unavailable(err)
	}
	sink, err := camera.NewSink(device, camera.SinkOptions{
		OutputDir:   cfg.Capture.OutputDir,
		MouseDir:    cfg.Capture.MouseDir,
		KeyboardDir: cfg.Capture.KeyboardDir,
		JPEGQuality: cfg.Capture.JPEGQuality,
		MaxWidth:    cfg.Capture.MaxWidth,
	})
	if err != nil {
		device.Close()
		return err
	}

	var index collector.Index
	var db *store.Store
	if cfg.Storage.Enabled {
		db, err = store.Open(cfg.Storage.Path)
		if err != nil {
			sink.Close()
			return fmt.Errorf("open capture index: %w", err)
		}
		defer db.Close()
		index = db
	}

	registry := metrics.NewRegistry("gazecollect")
	m := metrics.NewCollectorMetrics(registry)

	session, err := collector.New(collector.Options{
		Resolver:      resolver,
		Pointer:       pointer,
		Sink:          sink,
		Platform:      platform,
		Index:         index,
		Reporter:      console,
		Metrics:       m,
		Crash:         crash,
		Logger:        logger.Component("collector"),
		RecordKeys:    cfg.Capture.RecordKeys,
		DisableClicks: !cfg.Capture.Clicks,
		DisableKeys:   !cfg.Capture.Keys,
	})
	if err != nil {
		sink.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	checker := health.NewChecker()
	checker.RegisterFunc("camera", false, health.CameraCheck(sink))
	checker.RegisterFunc("caret", false, health.CaretCheck(resolver.Stats))
	checker.RegisterFunc("input", false, health.InputCheck(session.LastEvent, 0))
	if db != nil {
		checker.RegisterFunc("store", true, health.StoreCheck(db.Ping))
	}
	if cfg.Metrics.Enabled {
		srv := serveMetrics(cfg.Metrics.Listen, m, checker, logger.Component("metrics"))
		defer shutdownServer(srv)
	}

	if !flags.noWatch {
		watchConfig(ctx, cfgPath, flags, session, logger.Component("config"))
	}

	checker.SetReady(true)
	logger.Info("collector running",
		"output", cfg.Capture.OutputDir,
		"camera", device.Name(),
		"strategies", cfg.Caret.Strategies,
		"throttle", cfg.Throttle(),
	)

	err = session.Run(ctx, input.NewHookSource(logger.Component("input")))
	checker.SetReady(false)
	return err
}

// watchConfig reloads the file on change and pushes the result, with the
// command-line overrides reapplied, into the session.
func watchConfig(ctx context.Context, path string, flags *runFlags, session *collector.Session, logger *slog.Logger) {
	loader := config.NewLoader(path)
	if _, err := loader.Load(); err != nil {
		logger.Warn("config reload disabled", "error", err)
		return
	}
	loader.OnChange(func(c *config.Config) {
		c = c.Clone()
		flags.apply(c)
		if err := c.Validate(); err != nil {
			logger.Warn("reloaded config rejected", "error", err)
			return
		}
		session.ApplyConfig(c)
	})
	if err := loader.Watch(); err != nil {
		logger.Warn("config reload disabled", "path", path, "error", err)
		return
	}

	go func() {
		defer loader.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-loader.Errors():
				logger.Warn("config reload failed", "error", err)
			}
		}
	}()
}

func serveMetrics(addr string, m *metrics.CollectorMetrics, checker *health.Checker, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.UpdateUptime()
		m.Registry().HTTPHandler().ServeHTTP(w, r)
	}))
	checker.Mount(mux)

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	return srv
}

func shutdownServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}
