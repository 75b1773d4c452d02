// Package jurisdiction defines the contract every country implementation
// satisfies and the shared template that runs generic validation, document
// generation and submission through the gateway.
package jurisdiction

import (
	"context"

	"github.com/rezonia/einvoicing/internal/model"
)

// Strategy is the per-country e-invoicing implementation
type Strategy interface {
	// Country returns the jurisdiction served
	Country() model.Country

	// Validate runs the generic checks and the country's own rules.
	// All violations are collected; the result is valid only when both sets are empty.
	Validate(inv *model.EInvoice) *model.ValidationResult

	// GenerateDocument renders the country's canonical artifact. Identical
	// input yields byte-identical output.
	GenerateDocument(inv *model.EInvoice) (*model.Document, error)

	// Send validates, generates, hashes and submits the invoice.
	// Failures are reported in the result.
	Send(ctx context.Context, inv *model.EInvoice, opts ...SendOption) model.SendResult

	// GetStatus returns the invoice status known to the channel or ledger
	GetStatus(ctx context.Context, invoiceID string) (model.Status, error)
}

type sendOptions struct {
	resend bool
	tenant string
}

// SendOption configures one Send call
type SendOption func(*sendOptions)

// WithResend asks for an explicit resend of an already sent invoice.
// The document hash must match the first submission.
func WithResend() SendOption {
	return func(o *sendOptions) {
		o.resend = true
	}
}

// WithTenant records the submission under the given tenant
func WithTenant(id string) SendOption {
	return func(o *sendOptions) {
		o.tenant = id
	}
}

// Hash returns the idempotency key of a generated document
func Hash(doc *model.Document) string {
	return doc.Hash()
}
