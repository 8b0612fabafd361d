package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/discovery"
	"github.com/Y0oshi/deepfocus/internal/enumerate"
	"github.com/Y0oshi/deepfocus/internal/export"
	"github.com/Y0oshi/deepfocus/internal/logging"
	"github.com/Y0oshi/deepfocus/internal/scan"
	"github.com/Y0oshi/deepfocus/internal/store"
)

const progressInterval = 5 * time.Second

var (
	scanNetwork   string
	scanPower     int
	scanThreads   int
	scanPorts     string
	scanPrefilter bool
	scanNoExport  bool
)

// scanCmd represents the scan command.
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan a network range and record live services",
	Long: `Scan every host in the target range on the configured ports,
classify each answering service and its authentication posture, and
persist the findings to the local result store.

The load governor keeps scan pressure inside the chosen power level;
lower it on machines that must stay responsive while scanning.`,
	Example: `  deepfocus scan --network 192.168.1.0/24
  deepfocus scan --network 10.0.0.0/16 --power 30 --threads 200
  deepfocus scan --network 192.168.1.0/24 --ports 80,443,22 --prefilter
  deepfocus scan --network 192.168.1.0/24 --no-export`,
	Run: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringVar(&scanNetwork, "network", "", "Target network in CIDR notation (e.g. 192.168.1.0/24)")
	scanCmd.Flags().IntVar(&scanPower, "power", 0, "Power level 10-100 (0 = use config)")
	scanCmd.Flags().IntVar(&scanThreads, "threads", 0, "Worker count 100-1000 (0 = use config)")
	scanCmd.Flags().StringVar(&scanPorts, "ports", "", "Ports to probe, comma-separated (empty = use config)")
	scanCmd.Flags().BoolVar(&scanPrefilter, "prefilter", false, "Ping-sweep first and only probe responsive hosts")
	scanCmd.Flags().BoolVar(&scanNoExport, "no-export", false, "Skip the text export written when the scan finishes")
}

func runScan(cmd *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if scanNetwork != "" {
		cfg.Scanning.TargetNetwork = scanNetwork
	}
	if scanPower != 0 {
		cfg.Scanning.PowerLevel = scanPower
	}
	if scanThreads != 0 {
		cfg.Scanning.ThreadCount = scanThreads
	}
	if scanPorts != "" {
		ports, err := parsePorts(scanPorts)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid port specification %q: %v\n", scanPorts, err)
			os.Exit(1)
		}
		cfg.Scanning.Ports = ports
	}
	if scanPrefilter {
		cfg.Scanning.Prefilter = true
	}

	if cfg.Scanning.TargetNetwork == "" {
		fmt.Fprintf(os.Stderr, "Error: a target network is required (--network or config file)\n\n")
		_ = cmd.Help()
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid configuration: %v\n", err)
		os.Exit(1)
	}

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

	iter, err := enumerate.New(cfg.Scanning.TargetNetwork, cfg.Scanning.Ports)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var source enumerate.Source = iter
	if cfg.Scanning.Prefilter {
		source = prefilterSource(ctx, cfg.Scanning.TargetNetwork, iter, logger)
	}

	engine := scan.NewEngine(cfg, st, logger.WithComponent("scan"))
	session, err := engine.Start(ctx, source, cfg.Scanning.TargetNetwork)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting scan: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Scanning %s (%d targets, power %d, %d workers)\n",
		cfg.Scanning.TargetNetwork, source.Total(),
		cfg.Scanning.PowerLevel, cfg.Scanning.ThreadCount)

	go watchProgress(ctx, engine, session)
	engine.Wait()
	stop()

	final := session.Snapshot()
	fmt.Printf("\nScan %s: %d/%d targets probed, %d services found, %d errors\n",
		final.State, final.Completed, final.Total, final.Found, final.Errors)

	if !scanNoExport {
		writeExport(cfg, st, logger)
	}
}

// prefilterSource runs a ping sweep and restricts the iterator to the
// hosts that answered. Sweep failure falls back to the full range.
func prefilterSource(ctx context.Context, cidr string, iter *enumerate.Iterator, logger *logging.Logger) enumerate.Source {
	fmt.Println("Running ping sweep to narrow the target set...")
	pinger := discovery.NewPinger(0, logger.WithComponent("discovery"))
	alive, err := pinger.Sweep(ctx, cidr)
	if err != nil {
		logger.Warn("Prefilter unavailable, probing full range", "error", err)
		fmt.Fprintln(os.Stderr, "Warning: ping sweep failed, probing the full range")
		return iter
	}
	fmt.Printf("Ping sweep found %d responsive hosts\n", len(alive))
	return iter.RestrictHosts(alive)
}

func watchProgress(ctx context.Context, engine *scan.Engine, session *scan.Session) {
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupt received, stopping scan...")
			engine.Stop()
			return
		case <-ticker.C:
			p := session.Snapshot()
			if p.State != scan.SessionRunning {
				return
			}
			gov := engine.GovernorStatus()
			fmt.Printf("  %.1f%% (%d/%d) found=%d governor=%s load=%.2f\n",
				p.Percent, p.Completed, p.Total, p.Found, gov.State, gov.NormalizedLoad)
		}
	}
}

func writeExport(cfg *config.Config, st *store.Store, logger *logging.Logger) {
	records, err := st.ListOpen(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading results for export: %v\n", err)
		os.Exit(1)
	}
	path, err := export.New(cfg.Export.Directory, logger.WithComponent("export")).Export(records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Export written: %s (%d records)\n", path, len(records))
}

func parsePorts(spec string) ([]int, error) {
	parts := strings.Split(spec, ",")
	ports := make([]int, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		port, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q is not a port number", part)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("port %d out of range", port)
		}
		ports = append(ports, port)
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("no ports given")
	}
	return ports, nil
}
