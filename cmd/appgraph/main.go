// Command appgraph serves the mobile-app UI mapping API: screen capture
// and reconciliation, the application state graph, traffic correlation,
// and the live event stream.
//
// Usage:
//
//	appgraph                       # defaults + environment
//	appgraph -config appgraph.yaml # explicit configuration file
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/appgraph/config"
	"github.com/hazyhaar/appgraph/device"
	"github.com/hazyhaar/appgraph/graph"
	"github.com/hazyhaar/appgraph/live"
	"github.com/hazyhaar/appgraph/service"
	"github.com/hazyhaar/appgraph/traffic"
	"github.com/hazyhaar/appgraph/vision"
)

func main() {
	configPath := flag.String("config", "", "path to appgraph.yaml")
	flag.Parse()

	// .env is optional; real environments set variables directly.
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("appgraph: config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("appgraph: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	for _, dir := range []string{cfg.Screenshot.Dir, cfg.Screenshot.AnnotatedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	store, err := graph.Open(cfg.DBPath,
		graph.WithLogger(logger),
		graph.WithScreenshotDirs(cfg.Screenshot.Dir, cfg.Screenshot.AnnotatedDir))
	if err != nil {
		return err
	}
	defer store.Close()

	// Explicit, dependency-injected collaborators constructed once at
	// startup; lifecycle is owned here.
	hub := live.NewHub(live.WithLogger(logger))
	dev := device.NewExecController(cfg.Device.ADBPath, logger)
	monitor := device.NewMonitor(dev, hub, cfg.Device.PollInterval.Std(), logger)

	var vis vision.Engine
	if cfg.Vision.Endpoint != "" {
		vis = vision.NewHTTPEngine(cfg.Vision.Endpoint, nil)
	} else {
		logger.Warn("appgraph: no vision endpoint configured, using mock engine")
		vis = &vision.MockEngine{}
	}

	proxy := traffic.NewProxyClient(cfg.Traffic.ProxyURL, nil)
	assoc := traffic.NewAssociator(proxy, store, logger)

	svc := service.New(store, hub, dev, vis, assoc, cfg, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(service.CORS(service.DefaultOrigins()))
	svc.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		monitor.Run(gctx)
		return nil
	})
	g.Go(func() error {
		assoc.Run(gctx, cfg.Traffic.PollInterval.Std())
		return nil
	})
	g.Go(func() error {
		logger.Info("appgraph: listening", "addr", cfg.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = os.Getenv("APPGRAPH_CONFIG")
	}

	var cfg *config.Config
	if path != "" {
		loaded, err := config.LoadFile(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	// Environment overrides for the common deployment knobs.
	if v := os.Getenv("PORT"); v != "" {
		cfg.Listen = ":" + v
	}
	if v := os.Getenv("SERVER_BASE_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.DBPath = v + "/appgraph.db"
		cfg.Screenshot.Dir = v + "/screenshots"
		cfg.Screenshot.AnnotatedDir = v + "/annotated_screenshots"
	}
	if v := os.Getenv("VISION_ENDPOINT"); v != "" {
		cfg.Vision.Endpoint = v
	}
	if v := os.Getenv("PROXY_API_URL"); v != "" {
		cfg.Traffic.ProxyURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	return cfg, nil
}
