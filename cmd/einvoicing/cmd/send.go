package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/jurisdiction"
)

var (
	resend bool
	tenant string
)

var sendCmd = &cobra.Command{
	Use:   "send <file>",
	Short: "Submit an invoice to its tax authority channel",
	Long: `Validate, generate and submit an invoice request. Failed transmissions are
retried with exponential backoff; an invoice whose document was already
accepted is not submitted twice.

Submissions are recorded in the ledger. Set EINVOICING_DATABASE_DSN (or
--database-dsn) to keep them between runs, otherwise each run starts empty.

Examples:
  einvoicing send invoice.json
  einvoicing send invoice.json --resend
  einvoicing send invoice.json --tenant acme`,
	Args: cobra.ExactArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().BoolVar(&resend, "resend", false, "Submit again even if the invoice was already sent")
	sendCmd.Flags().StringVar(&tenant, "tenant", "", "Tenant the submission is recorded for")
}

func runSend(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args[0])
	if err != nil {
		return err
	}
	if tenant != "" {
		req.TenantID = tenant
	}

	a, err := loadEngine()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []jurisdiction.SendOption
	if resend {
		opts = append(opts, jurisdiction.WithResend())
	}
	res := a.Pipeline.Send(ctx, req, opts...)

	if outputFormat == "json" {
		if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
			return err
		}
	} else {
		if res.Success {
			fmt.Printf("✓ %s: %s\n", res.InvoiceID, res.Status)
			fmt.Printf("  Registration: %s\n", res.RegistrationCode)
			fmt.Printf("  Attempts:     %d\n", res.Attempts)
		} else {
			fmt.Printf("✗ %s: %s\n", res.InvoiceID, res.ErrorCode)
			fmt.Printf("  %s\n", res.ErrorMessage)
		}
	}

	if !res.Success {
		return fmt.Errorf("invoice %s was not accepted: %s", res.InvoiceID, res.ErrorCode)
	}
	return nil
}
