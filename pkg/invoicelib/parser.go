package invoicelib

import (
	"context"
	"time"
)

// Engine issues invoices
type Engine interface {
	// Validate runs the rules of the request's jurisdiction
	Validate(req *InvoiceRequest) (*ValidationResult, error)

	// Generate renders the jurisdiction's document
	Generate(req *InvoiceRequest) (*Document, error)

	// Send submits the invoice; failures are reported in the result
	Send(ctx context.Context, req *InvoiceRequest) SendResult

	// Status returns the submission status of an invoice
	Status(ctx context.Context, country, invoiceID string) (Status, error)
}

// Reader reads received invoices
type Reader interface {
	// Inspect parses a CII or SII document, or a hybrid PDF carrying one
	Inspect(ctx context.Context, data []byte) (*ParsedInvoice, error)

	// Verify checks the XML signature of a document
	Verify(ctx context.Context, data []byte) (*VerificationResult, error)
}

// BatchResult is the outcome of one request of a batch
type BatchResult struct {
	Index  int
	Result SendResult
}

// Options configures a Processor
type Options struct {
	// SendTimeout bounds each channel call (default: 30s)
	SendTimeout time.Duration
	// MaxRetries of transient transport failures (default: 3)
	MaxRetries int
	// DatabaseDSN selects a PostgreSQL submission ledger; empty keeps it in memory
	DatabaseDSN string

	// FacturXProfile is the French default profile (default: EN16931)
	FacturXProfile Profile

	// Channel endpoints; empty values use the sandbox endpoints
	ChorusProEnv   string
	ChorusProToken string
	XRechnungURL   string
	XRechnungToken string
	AEATEnv        string

	// SigningCertFile and SigningKeyFile sign Spanish registrations
	SigningCertFile string
	SigningKeyFile  string
	// TrustCAFile enables Verify
	TrustCAFile string

	// Concurrency bounds SendBatch (default: 4)
	Concurrency int
}

// DefaultOptions returns default processor options
func DefaultOptions() Options {
	return Options{
		SendTimeout:    30 * time.Second,
		MaxRetries:     3,
		FacturXProfile: ProfileEN16931,
		ChorusProEnv:   "sandbox",
		AEATEnv:        "test",
		Concurrency:    4,
	}
}
