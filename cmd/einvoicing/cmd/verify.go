package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rezonia/einvoicing/internal/processor"
	"github.com/rezonia/einvoicing/internal/signature"
	"github.com/rezonia/einvoicing/internal/signature/trust"
	sigxml "github.com/rezonia/einvoicing/internal/signature/xml"
)

var (
	caFile   string
	skipOCSP bool
)

var verifyCmd = &cobra.Command{
	Use:   "verify [files...]",
	Short: "Verify digital signatures",
	Long: `Verify the enveloped XML signatures of invoice documents.

Verifies:
  - Signature validity (cryptographic verification)
  - Certificate chain (to the trusted CAs)
  - Certificate revocation (OCSP, unless --skip-ocsp)
  - Signer information

Examples:
  # Verify against the CAs of EINVOICING_TRUST_CA_FILE
  einvoicing verify invoice.xml

  # Verify with a given CA certificate
  einvoicing verify --ca-file authority.crt invoice.xml

  # Skip OCSP revocation check
  einvoicing verify --skip-ocsp -f table invoice.xml`,
	Args: cobra.MinimumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)

	verifyCmd.Flags().StringVar(&caFile, "ca-file", "", "CA certificate file (PEM format, env: EINVOICING_TRUST_CA_FILE)")
	verifyCmd.Flags().BoolVar(&skipOCSP, "skip-ocsp", false, "Do not fail when OCSP responders cannot be reached")
}

func runVerify(cmd *cobra.Command, args []string) error {
	files, err := collectFiles(args, ".xml")
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no files found to verify")
	}

	a, err := loadEngine()
	if err != nil {
		return err
	}

	if caFile == "" {
		caFile = cfg.Signing.TrustCAFile
	}
	if caFile == "" {
		return fmt.Errorf("no trusted CA: pass --ca-file or set EINVOICING_TRUST_CA_FILE")
	}
	opts := []trust.TrustStoreOption{trust.WithCAFile(caFile)}
	if skipOCSP {
		opts = append(opts, trust.WithSoftFail())
	}
	trustStore, err := trust.NewTrustStore(opts...)
	if err != nil {
		return fmt.Errorf("failed to create trust store: %w", err)
	}

	pipeline := processor.NewPipeline(a.Registry,
		processor.WithVerifiers(signature.NewVerifierRegistry(sigxml.NewXMLVerifier(trustStore))))

	results := make([]*VerifyResult, 0, len(files))
	allValid := true
	for _, file := range files {
		printVerbose("Verifying: %s\n", file)
		result := verifyFile(pipeline, file)
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
		printVerifyTable(results)
	}

	if !allValid {
		return fmt.Errorf("verification failed for some files")
	}
	return nil
}

func printVerifyTable(results []*VerifyResult) {
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}

	for _, r := range results {
		status := "VALID"
		if !r.Valid {
			status = "INVALID"
		}
		fmt.Printf("%s %s: %s\n", mark(r.Valid), r.File, status)

		if r.Document != "" {
			fmt.Printf("  Document: %s\n", r.Document)
		}
		if r.Signer != nil {
			fmt.Printf("  Signer: %s\n", r.Signer.Name)
			if r.Signer.Organization != "" {
				fmt.Printf("  Org:    %s\n", r.Signer.Organization)
			}
			if r.Signer.Issuer != "" {
				fmt.Printf("  Issuer: %s\n", r.Signer.Issuer)
			}
		}
		if r.SignedAt != nil {
			fmt.Printf("  Signed: %s\n", r.SignedAt.Format(time.RFC3339))
		}

		if r.SignatureFound {
			fmt.Printf("  Signature:   %s\n", mark(r.SignatureValid))
			fmt.Printf("  Cert Chain:  %s\n", mark(r.CertChainValid))
			fmt.Printf("  Not Revoked: %s\n", mark(r.NotRevoked))
		}

		for _, e := range r.Errors {
			fmt.Printf("  ✗ %s\n", e)
		}
		for _, w := range r.Warnings {
			fmt.Printf("  ⚠ %s\n", w)
		}
	}
}

func verifyFile(pipeline *processor.Pipeline, filePath string) *VerifyResult {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	result := &VerifyResult{File: filePath}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to read file: %v", err))
		return result
	}

	res, err := pipeline.Verify(ctx, data)
	if res != nil {
		result.VerificationResult = *res
	}
	if err != nil {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf("verification error: %v", err))
	}
	return result
}

// VerifyResult holds the result of verifying a single file
type VerifyResult struct {
	File string `json:"file"`
	signature.VerificationResult
}
