package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/processor"
)

var (
	outputFile string
	basePDF    string
)

var generateCmd = &cobra.Command{
	Use:   "generate <file>",
	Short: "Generate the e-invoice document of a request",
	Long: `Validate an invoice request and render its document: Factur-X or
ZUGFeRD/XRechnung CII for France and Germany, the SII registration for Spain.

With --pdf the CII document is embedded into the given PDF, producing a
hybrid PDF/A-3 invoice.

Examples:
  einvoicing generate invoice.json -o factur-x.xml
  einvoicing generate invoice.json --pdf layout.pdf -o invoice.pdf
  cat invoice.json | einvoicing generate -`,
	Args: cobra.ExactArgs(1),
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	generateCmd.Flags().StringVar(&basePDF, "pdf", "", "Visual PDF to embed the XML into")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	req, err := readRequest(args[0])
	if err != nil {
		return err
	}

	var opts processor.GenerateOptions
	if basePDF != "" {
		if opts.BasePDF, err = os.ReadFile(basePDF); err != nil {
			return fmt.Errorf("failed to read base PDF: %w", err)
		}
	}

	a, err := loadEngine()
	if err != nil {
		return err
	}
	doc, err := a.Pipeline.Generate(req, opts)
	if err != nil {
		return err
	}
	printVerbose("Generated %s %s document (%d bytes, sha256 %s)\n", doc.Country, doc.Format, len(doc.Content), doc.Hash())

	if outputFile == "" {
		_, err = cmd.OutOrStdout().Write(doc.Content)
		return err
	}
	if err := os.WriteFile(outputFile, doc.Content, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	return nil
}
