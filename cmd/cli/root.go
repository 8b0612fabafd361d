// Package cli implements the deepfocus command tree: scanning, the API
// server, stored-result views and exports.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Y0oshi/deepfocus/internal/config"
	"github.com/Y0oshi/deepfocus/internal/logging"
)

var (
	cfgFile string
	verbose bool
)

// Build information - set by ldflags during build.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "deepfocus",
	Short: "Concurrent service and auth-posture scanner",
	Long: `Deepfocus enumerates IP ranges, probes well-known ports with
protocol-specific handshakes, and records each live service with its
authentication posture. A load governor keeps the scan inside a
user-chosen share of the machine.`,
	Version: getVersion(),
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./deepfocus.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose")); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to bind verbose flag: %v\n", err)
	}
}

// initConfig reads the config file and DEEPFOCUS_ environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("deepfocus")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("DEEPFOCUS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig builds the effective configuration from file plus flags.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = "deepfocus.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// setupLogging configures the process logger from config.
func setupLogging(cfg *config.Config) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:  logging.LogLevel(cfg.Logging.Level),
		Format: logging.LogFormat(cfg.Logging.Format),
		Output: cfg.Logging.Output,
	})
}

func getVersion() string {
	return fmt.Sprintf("%s (commit %s, built %s)", version, commit, buildTime)
}
