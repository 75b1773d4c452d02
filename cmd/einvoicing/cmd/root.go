package cmd

import (
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/app"
	"github.com/rezonia/einvoicing/internal/config"
	"github.com/rezonia/einvoicing/internal/logger"
)

var (
	version = "1.0.0"

	// Global flags
	verbose      bool
	outputFormat string
	envFile      string
	logLevel     string
	dsn          string

	cfg     *config.Config
	cfgErr  error
	engine  *app.App
	buildMu sync.Mutex
)

var rootCmd = &cobra.Command{
	Use:   "einvoicing",
	Short: "Validate, generate and submit e-invoices for France, Germany and Spain",
	Long: `einvoicing builds legally compliant electronic invoices and submits them
to the French, German and Spanish tax authority channels.

Supported documents:
  - France: Factur-X (CII), Chorus Pro for B2G, direct exchange for B2B
  - Germany: ZUGFeRD and XRechnung (CII), XRechnung receipt platform for B2G
  - Spain: SII registration with the AEAT

Invoices are read as JSON requests. Settings come from EINVOICING_* environment
variables or an .env file.

Examples:
  # List countries and their fiscal settings
  einvoicing countries

  # Validate invoice requests
  einvoicing validate invoices/*.json

  # Generate a Factur-X document
  einvoicing generate invoice.json -o invoice.xml

  # Submit an invoice
  einvoicing send invoice.json

  # Read a received invoice
  einvoicing inspect received.xml -f table`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "format", "f", "json", "Output format (json, table)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Environment file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (env: EINVOICING_LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&dsn, "database-dsn", "", "PostgreSQL ledger DSN (env: EINVOICING_DATABASE_DSN)")

	cobra.OnInitialize(initConfig)
}

// initConfig loads the configuration; flags override the environment
func initConfig() {
	cfg, cfgErr = config.Load(envFile)
	if cfgErr != nil {
		return
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if verbose && logLevel == "" {
		cfg.Log.Level = "debug"
	}
	if dsn != "" {
		cfg.Database.DSN = dsn
	}
	if err := logger.Setup(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: invalid log configuration: %v\n", err)
		_ = logger.Setup(logger.DefaultConfig())
	}
}

// loadEngine assembles the engine once per invocation
func loadEngine() (*app.App, error) {
	buildMu.Lock()
	defer buildMu.Unlock()

	if cfgErr != nil {
		return nil, cfgErr
	}
	if engine != nil {
		return engine, nil
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	engine = a
	return engine, nil
}

func printVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
