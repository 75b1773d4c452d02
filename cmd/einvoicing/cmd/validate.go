package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/processor"
)

var validateCmd = &cobra.Command{
	Use:   "validate [files...]",
	Short: "Validate invoice requests",
	Long: `Validate one or more JSON invoice requests against the rules of their
jurisdiction.

Checks performed:
  - Required fields of the country (tax IDs, addresses, postal codes)
  - Fiscal ID format and checksum (Spanish NIF/NIE/CIF)
  - VAT rates allowed in the country
  - Amount reconciliation (subtotal + tax = total)
  - Country settings (Chorus Pro SIRET, Leitweg-ID, SII invoice type)

Examples:
  einvoicing validate invoice.json
  einvoicing validate invoices/ -f table`,
	Args: cobra.MinimumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".json")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to validate")
	}

	a, err := loadEngine()
	if err != nil {
		return err
	}

	results := make([]*ValidationResult, 0, len(files))
	allValid := true
	for _, file := range files {
		printVerbose("Validating: %s\n", file)
		result := validateFile(a.Pipeline, file)
		results = append(results, result)
		if !result.Valid {
			allValid = false
		}
	}

	if outputFormat == "json" {
		if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
			return err
		}
	} else {
		for _, r := range results {
			if r.Valid {
				fmt.Printf("✓ %s: VALID\n", r.File)
			} else {
				fmt.Printf("✗ %s: INVALID\n", r.File)
				for _, e := range r.Errors {
					fmt.Printf("  - %s\n", e)
				}
			}
			for _, w := range r.Warnings {
				fmt.Printf("  ⚠ %s\n", w)
			}
		}
	}

	if !allValid {
		return fmt.Errorf("validation failed for some files")
	}
	return nil
}

func validateFile(pipeline *processor.Pipeline, filePath string) *ValidationResult {
	result := &ValidationResult{File: filePath}

	req, err := readRequest(filePath)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Country = req.Country

	res, err := pipeline.Validate(req)
	if err != nil {
		result.Errors = append(result.Errors, err.Error())
		return result
	}
	result.Valid = res.Valid
	result.Errors = res.Messages
	result.Warnings = res.Warnings
	return result
}

// ValidationResult holds the result of validating a single file
type ValidationResult struct {
	File     string   `json:"file"`
	Country  string   `json:"country,omitempty"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}
