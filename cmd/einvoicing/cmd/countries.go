package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/model"
)

var countriesCmd = &cobra.Command{
	Use:   "countries [code]",
	Short: "Show fiscal reference data",
	Long: `List the countries of the fiscal reference data, or show the full
configuration of one country: tax rates, fiscal ID format, required
invoice fields and periodic returns.

Examples:
  einvoicing countries
  einvoicing countries es -f table`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCountries,
}

func init() {
	rootCmd.AddCommand(countriesCmd)
}

type countryRow struct {
	fiscal.CountrySummary
	EInvoicing bool `json:"eInvoicing"`
}

func runCountries(cmd *cobra.Command, args []string) error {
	table := fiscal.Default()
	w := cmd.OutOrStdout()

	if len(args) == 1 {
		c, err := table.Config(args[0])
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return writeJSON(w, c)
		}
		return printCountry(table, c)
	}

	rows := make([]countryRow, 0)
	for _, s := range table.Countries() {
		_, err := model.ParseCountry(s.Code)
		rows = append(rows, countryRow{CountrySummary: s, EInvoicing: err == nil})
	}
	if outputFormat == "json" {
		return writeJSON(w, rows)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CODE\tNAME\tE-INVOICING")
	fmt.Fprintln(tw, "----\t----\t-----------")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s %s\t%s\t%t\n", r.Flag, r.Code, r.Name, r.EInvoicing)
	}
	return tw.Flush()
}

func printCountry(table *fiscal.Table, c fiscal.CountryFiscalConfig) error {
	fmt.Printf("%s %s (%s)\n", c.Flag, c.Name, c.Code)
	fmt.Printf("  Currency:   %s (%s)\n", c.Currency, c.CurrencySymbol)
	fmt.Printf("  Fiscal ID:  %s, format %s\n", c.FiscalIDName, c.FiscalIDFormat)
	if p, err := table.CurrentFiscalPeriod(c.Code, time.Now()); err == nil {
		fmt.Printf("  Period:     %s %d\n", p.Period, p.Year)
	}

	fmt.Printf("  %s rates:\n", c.TaxName)
	for _, r := range c.TaxRates {
		marker := ""
		if r.IsDefault {
			marker = " (default)"
		}
		fmt.Printf("    %-12s %6s%%%s\n", r.Name, r.Rate.String(), marker)
	}

	if len(c.RequiredFields) > 0 {
		fmt.Printf("  Required:   %s\n", strings.Join(c.RequiredFields, ", "))
	}
	for _, m := range c.FiscalModels {
		fmt.Printf("  Model %s:  %s, %s\n", m.Code, m.Name, m.Frequency)
	}
	return nil
}
