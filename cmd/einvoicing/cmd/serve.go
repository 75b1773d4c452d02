package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/server"
)

var (
	serverAddr   string
	serverDebug  bool
	readTimeout  time.Duration
	writeTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Start an HTTP API server for the e-invoicing engine.

The API provides endpoints for:
  - GET  /api/v1/countries                 - Fiscal reference data
  - GET  /api/v1/countries/:code           - One country's configuration
  - POST /api/v1/invoices/validate         - Validate an invoice request
  - POST /api/v1/invoices/generate         - Generate the invoice document
  - POST /api/v1/invoices/send             - Submit an invoice
  - GET  /api/v1/invoices/:id/status       - Submission status
  - POST /api/v1/documents/inspect         - Parse a received e-invoice
  - POST /api/v1/documents/verify          - Verify an XML signature
  - GET  /metrics                          - Prometheus metrics
  - GET  /health                           - Health check

Examples:
  # Start server on default address
  einvoicing serve

  # Start on a custom address with a persistent ledger
  einvoicing serve --address :9090 --database-dsn "host=localhost dbname=einvoicing"

  # Start in debug mode
  einvoicing serve --debug`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverAddr, "address", "", "Server listen address (env: EINVOICING_HTTP_ADDRESS)")
	serveCmd.Flags().BoolVar(&serverDebug, "debug", false, "Enable debug mode")
	serveCmd.Flags().DurationVar(&readTimeout, "read-timeout", 0, "HTTP read timeout")
	serveCmd.Flags().DurationVar(&writeTimeout, "write-timeout", 0, "HTTP write timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := loadEngine()
	if err != nil {
		return err
	}

	config := &server.Config{
		Address:        cfg.HTTP.Address,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		Debug:          cfg.App.Debug || serverDebug,
		SendTimeout:    sendBudget(),
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RateLimit:      cfg.HTTP.RateLimit,
		RateBurst:      cfg.HTTP.RateBurst,
	}
	if serverAddr != "" {
		config.Address = serverAddr
	}
	if readTimeout > 0 {
		config.ReadTimeout = readTimeout
	}
	if writeTimeout > 0 {
		config.WriteTimeout = writeTimeout
	}

	srv := server.NewServer(config, a.Pipeline, server.WithGatherer(a.Metrics))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting server on %s\n", config.Address)
	return srv.Run(ctx)
}

// sendBudget covers every attempt of one send and the waits between them
func sendBudget() time.Duration {
	retry := cfg.Send.Retry
	longest := cfg.Send.Timeout
	for _, d := range cfg.Send.Timeouts {
		if d > longest {
			longest = d
		}
	}
	attempts := time.Duration(retry.MaxRetries + 1)
	return longest*attempts + retry.MaxDelay*time.Duration(retry.MaxRetries)
}
