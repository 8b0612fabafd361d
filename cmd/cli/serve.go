package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Y0oshi/deepfocus/internal/api"
	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/enumerate"
	"github.com/Y0oshi/deepfocus/internal/export"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/metrics"
	"github.com/Y0oshi/deepfocus/internal/scan"
	"github.com/Y0oshi/deepfocus/internal/schedule"
	"github.com/Y0oshi/deepfocus/internal/store"
)

const (
	metricsUpdateInterval = 15 * time.Second
	pruneCronSpec         = "0 3 * * *"
)

var (
	serveAddr string
	servePort int
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control API server",
	Long: `Run the HTTP control API. Scans are started and stopped over REST,
progress and new findings stream over a websocket, and Prometheus
metrics are exposed on /metrics.

When a rescan cron expression is configured, the server re-runs the
configured range on that schedule. Stale unreachable records are pruned
nightly.`,
	Example: `  deepfocus serve
  deepfocus serve --port 8870
  deepfocus serve --addr 0.0.0.0 --port 9000`,
	Run: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (empty = use config)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Listen port (0 = use config)")
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if serveAddr != "" {
		cfg.API.ListenAddr = serveAddr
	}
	if servePort != 0 {
		cfg.API.Port = servePort
	}
	cfg.API.Enabled = true

	logger, err := setupLogging(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error setting up logging: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database.Path, logger.WithComponent("store"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening result store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := scan.NewEngine(cfg, st, logger.WithComponent("scan"))
	exporter := export.New(cfg.Export.Directory, logger.WithComponent("export"))
	handlers := api.NewHandlers(cfg, engine, st, exporter, logger.WithComponent("api"))
	server := api.NewServer(cfg, handlers, logger.WithComponent("api"))

	// New findings go straight to websocket subscribers.
	engine.OnResult = server.Hub().PublishResult

	// Every finished or stopped scan leaves an export snapshot behind.
	engine.OnComplete = func(_ scan.Progress) {
		if _, _, err := handlers.ExportSnapshot(context.Background()); err != nil {
			logger.Error("Export snapshot failed", "error", err)
		}
	}

	go publishProgress(ctx, engine, server.Hub(), cfg.API.LivePushInterval)
	go metrics.GetGlobalMetrics().StartPeriodicUpdates(ctx, metricsUpdateInterval)

	scheduler, err := buildScheduler(ctx, cfg, engine, st, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring scheduler: %v\n", err)
		os.Exit(1)
	}
	scheduler.StartAsync()
	defer scheduler.Stop()

	fmt.Printf("deepfocus %s serving on %s\n", version, cfg.GetAPIAddress())

	if err := server.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}

	// Let an in-flight scan drain before closing the store.
	engine.Stop()
	fmt.Println("Server stopped")
}

// publishProgress pushes a progress frame to websocket clients while a
// scan is running.
func publishProgress(ctx context.Context, engine *scan.Engine, hub *api.Hub, interval time.Duration) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p := engine.Status()
			if p.State == scan.SessionRunning || p.State == scan.SessionStopping {
				hub.PublishProgress(p)
			}
		}
	}
}

// buildScheduler wires the optional rescan job and the nightly prune.
func buildScheduler(ctx context.Context, cfg *config.Config, engine *scan.Engine, st *store.Store, logger *logging.Logger) (*schedule.Scheduler, error) {
	scheduler := schedule.New(logger.WithComponent("schedule"))

	if cfg.Scanning.RescanCron != "" {
		err := scheduler.AddJob(cfg.Scanning.RescanCron, "rescan", func() {
			iter, err := enumerate.New(cfg.Scanning.TargetNetwork, cfg.Scanning.Ports)
			if err != nil {
				logger.Error("Rescan skipped: bad target range", "error", err)
				return
			}
			if _, err := engine.Start(ctx, iter, cfg.Scanning.TargetNetwork); err != nil {
				logger.Warn("Rescan skipped: scan already running", "error", err)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	if cfg.Database.PruneAfter > 0 {
		err := scheduler.AddJob(pruneCronSpec, "prune", func() {
			pruned, err := st.Prune(ctx, cfg.Database.PruneAfter)
			if err != nil {
				logger.ErrorStore("Prune failed", err)
				return
			}
			logger.Info("Pruned stale records", "count", pruned)
		})
		if err != nil {
			return nil, err
		}
	}

	return scheduler, nil
}
