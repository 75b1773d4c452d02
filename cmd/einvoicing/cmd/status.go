package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCountry string

var statusCmd = &cobra.Command{
	Use:   "status <invoice-id>",
	Short: "Show the submission status of an invoice",
	Long: `Poll the channel that acknowledged an invoice for its current status.
Invoices the ledger does not know are reported as DRAFT.

Examples:
  einvoicing status fr-0001 --country FR`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().StringVar(&statusCountry, "country", "", "Jurisdiction of the invoice (FR, DE, ES)")
	_ = statusCmd.MarkFlagRequired("country")
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, err := loadEngine()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := a.Pipeline.Status(ctx, statusCountry, args[0])
	if err != nil {
		return err
	}

	if outputFormat == "json" {
		return writeJSON(cmd.OutOrStdout(), map[string]string{
			"invoiceId": args[0],
			"country":   statusCountry,
			"status":    string(st),
		})
	}
	fmt.Printf("%s: %s\n", args[0], st)
	return nil
}
