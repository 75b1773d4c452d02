package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	xmlparser "github.com/rezonia/einvoicing/internal/parser/xml"
	"github.com/rezonia/einvoicing/internal/processor"
)

var (
	inspectOutput  string
	inspectTimeout time.Duration
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [files...]",
	Short: "Read received e-invoices",
	Long: `Parse one or more received e-invoices and print their key figures.

Supported documents:
  - CII: Factur-X, ZUGFeRD and XRechnung (.xml)
  - SII: Spanish registrations, bare or in their SOAP envelope (.xml)
  - Hybrid PDF/A-3 invoices carrying a CII attachment (.pdf)

Examples:
  einvoicing inspect factur-x.xml
  einvoicing inspect received/ -f table
  einvoicing inspect *.xml *.pdf -f csv -o summary.csv`,
	Args: cobra.MinimumNArgs(1),
	RunE: runInspect,
}

func init() {
	rootCmd.AddCommand(inspectCmd)

	inspectCmd.Flags().StringVarP(&inspectOutput, "output", "o", "", "Output file (default: stdout)")
	inspectCmd.Flags().DurationVar(&inspectTimeout, "timeout", 30*time.Second, "Processing timeout per file")
}

func runInspect(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".xml", ".pdf")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to inspect")
	}
	printVerbose("Found %d files to inspect\n", len(files))

	a, err := loadEngine()
	if err != nil {
		return err
	}

	results := make([]*InspectResult, 0, len(files))
	for _, file := range files {
		printVerbose("Inspecting: %s\n", file)
		result := inspectFile(a.Pipeline, file)
		results = append(results, result)
		if result.Error != "" {
			printVerbose("  Error: %s\n", result.Error)
		}
	}

	var w io.Writer = cmd.OutOrStdout()
	if inspectOutput != "" {
		f, err := os.Create(inspectOutput)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	switch outputFormat {
	case "json":
		return writeJSON(w, results)
	case "table":
		return outputTable(w, results)
	case "csv":
		return outputCSV(w, results)
	default:
		return fmt.Errorf("unsupported output format: %s", outputFormat)
	}
}

func inspectFile(pipeline *processor.Pipeline, filePath string) *InspectResult {
	ctx, cancel := context.WithTimeout(context.Background(), inspectTimeout)
	defer cancel()

	result := &InspectResult{File: filePath}
	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Error = fmt.Sprintf("failed to read file: %v", err)
		return result
	}

	inv, err := pipeline.Inspect(ctx, data)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Invoice = inv
	return result
}

func outputTable(w io.Writer, results []*InspectResult) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE\tFORMAT\tNUMBER\tDATE\tSELLER\tTOTAL\tSIGNED")
	fmt.Fprintln(tw, "----\t------\t------\t----\t------\t-----\t------")

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(tw, "%s\tERROR: %s\t\t\t\t\t\n", r.File, r.Error)
			continue
		}
		inv := r.Invoice
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s %s\t%t\n",
			r.File,
			inv.Format,
			inv.Number,
			formatDate(inv.IssueDate),
			inv.Seller.Name,
			inv.Total.StringFixed(2),
			inv.Currency,
			inv.Signed,
		)
	}

	return tw.Flush()
}

func outputCSV(w io.Writer, results []*InspectResult) error {
	fmt.Fprintln(w, "file,format,number,date,seller_name,seller_tax_id,buyer_name,buyer_tax_id,subtotal,tax_amount,total,currency,signed,error")

	for _, r := range results {
		if r.Error != "" {
			fmt.Fprintf(w, "%s,,,,,,,,,,,,,%s\n", r.File, escapeCSV(r.Error))
			continue
		}
		inv := r.Invoice
		fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%t,\n",
			r.File,
			inv.Format,
			escapeCSV(inv.Number),
			formatDate(inv.IssueDate),
			escapeCSV(inv.Seller.Name),
			inv.Seller.TaxID,
			escapeCSV(inv.Buyer.Name),
			inv.Buyer.TaxID,
			inv.Subtotal.StringFixed(2),
			inv.TaxAmount.StringFixed(2),
			inv.Total.StringFixed(2),
			inv.Currency,
			inv.Signed,
		)
	}

	return nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func escapeCSV(s string) string {
	if strings.Contains(s, ",") || strings.Contains(s, "\"") || strings.Contains(s, "\n") {
		return "\"" + strings.ReplaceAll(s, "\"", "\"\"") + "\""
	}
	return s
}

// InspectResult holds the result of inspecting a single file
type InspectResult struct {
	File    string                   `json:"file"`
	Invoice *xmlparser.ParsedInvoice `json:"invoice,omitempty"`
	Error   string                   `json:"error,omitempty"`
}
