package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Y0oshi/deepfocus/internal/export"
	"github.com/Y0oshi/deepfocus/internal/store"
)

var exportDir string

// exportCmd represents the export command.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write open services to a timestamped text file",
	Long: `Write every currently open service to a plain-text export file in
the export directory. The file name carries a unix timestamp so
repeated exports never overwrite each other.`,
	Example: `  deepfocus export
  deepfocus export --dir /tmp/exports`,
	Run: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)

	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Export directory (empty = use config)")
}

func runExport(_ *cobra.Command, _ []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if exportDir != "" {
		cfg.Export.Directory = exportDir
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

	records, err := st.ListOpen(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading results: %v\n", err)
		os.Exit(1)
	}

	path, err := export.New(cfg.Export.Directory, logger.WithComponent("export")).Export(records)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error writing export: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Export written: %s (%d records)\n", path, len(records))
}
