package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/Y0oshi/deepfocus/internal/store"
)

var (
	resultsOpenOnly bool
	resultsJSON     bool
	resultsHistory  string
)

// resultsCmd represents the results command.
var resultsCmd = &cobra.Command{
	Use:   "results",
	Short: "Show recorded services",
	Long: `List the services recorded by previous scans. By default every
record is shown; --open restricts the view to services that answered
on the last pass.`,
	Example: `  deepfocus results
  deepfocus results --open
  deepfocus results --json
  deepfocus results --history 192.168.1.10:80`,
	Run: runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)

	resultsCmd.Flags().BoolVar(&resultsOpenOnly, "open", false, "Only show currently open services")
	resultsCmd.Flags().BoolVar(&resultsJSON, "json", false, "Emit JSON instead of a table")
	resultsCmd.Flags().StringVar(&resultsHistory, "history", "", "Show observation history for one ip:port")
}

func runResults(_ *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	st, err := store.Open(cfg.Database.Path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening result store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	ctx := context.Background()

	if resultsHistory != "" {
		showHistory(ctx, st, resultsHistory)
		return
	}

	var records []store.ServiceRecord
	if resultsOpenOnly {
		records, err = st.ListOpen(ctx)
	} else {
		records, err = st.ListAll(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading results: %v\n", err)
		os.Exit(1)
	}

	if resultsJSON {
		out, _ := json.MarshalIndent(map[string]any{
			"count":    len(records),
			"services": records,
		}, "", "  ")
		fmt.Println(string(out))
		return
	}

	if len(records) == 0 {
		fmt.Println("No services recorded yet. Run 'deepfocus scan' first.")
		return
	}
	displayResultsTable(records)
	fmt.Printf("\n%d services\n", len(records))
}

func displayResultsTable(records []store.ServiceRecord) {
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("IP", "Port", "Service", "Auth", "State", "Vendor", "Last Seen")

	for i := range records {
		rec := &records[i]
		_ = table.Append([]string{
			rec.IP,
			strconv.Itoa(rec.Port),
			rec.Service,
			rec.Auth,
			rec.State,
			rec.Vendor,
			rec.LastSeen.Format("2006-01-02 15:04"),
		})
	}

	_ = table.Render()
}

func showHistory(ctx context.Context, st *store.Store, target string) {
	ip, port, err := splitTarget(target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	entries, err := st.History(ctx, ip, port)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Printf("No history for %s\n", target)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Seen", "Service", "Auth", "State")
	for i := range entries {
		e := &entries[i]
		_ = table.Append([]string{
			e.SeenAt.Format("2006-01-02 15:04:05"),
			e.Service,
			e.Auth,
			e.State,
		})
	}
	_ = table.Render()
}

func splitTarget(target string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(target)
	if err != nil {
		return "", 0, fmt.Errorf("expected ip:port, got %q", target)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, fmt.Errorf("invalid port in %q", target)
	}
	return host, port, nil
}
