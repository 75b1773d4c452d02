// Package invoicelib provides a public API for issuing and reading e-invoices
// in France, Germany and Spain.
//
// This package exposes the core types and a Processor that validates,
// generates, submits and inspects invoices.
//
// Example usage:
//
//	proc, err := invoicelib.NewProcessor(invoicelib.DefaultOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	req, err := invoicelib.DecodeRequest(data)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	res := proc.Send(ctx, req)
//	fmt.Println(res.Status, res.RegistrationCode)
package invoicelib

import (
	"github.com/rezonia/einvoicing/internal/model"
	xmlparser "github.com/rezonia/einvoicing/internal/parser/xml"
	"github.com/rezonia/einvoicing/internal/processor"
	"github.com/rezonia/einvoicing/internal/signature"
)

// Re-export core types for public API
type (
	Country          = model.Country
	Status           = model.Status
	Profile          = model.Profile
	DocumentType     = model.DocumentType
	Party            = model.Party
	Address          = model.Address
	CountryConfig    = model.CountryConfig
	FranceConfig     = model.FranceConfig
	GermanyConfig    = model.GermanyConfig
	SpainConfig      = model.SpainConfig
	Document         = model.Document
	SendResult       = model.SendResult
	ValidationResult = model.ValidationResult

	InvoiceRequest = processor.InvoiceRequest
	Date           = processor.Date
	Reference      = processor.Reference

	ParsedInvoice      = xmlparser.ParsedInvoice
	VerificationResult = signature.VerificationResult
)

// Re-export countries
const (
	CountryFrance  = model.CountryFrance
	CountryGermany = model.CountryGermany
	CountrySpain   = model.CountrySpain
)

// Re-export statuses
const (
	StatusDraft     = model.StatusDraft
	StatusValidated = model.StatusValidated
	StatusGenerated = model.StatusGenerated
	StatusSent      = model.StatusSent
	StatusAccepted  = model.StatusAccepted
	StatusRejected  = model.StatusRejected
)

// Re-export Factur-X and XRechnung profiles
const (
	ProfileMinimum   = model.ProfileMinimum
	ProfileBasicWL   = model.ProfileBasicWL
	ProfileBasic     = model.ProfileBasic
	ProfileEN16931   = model.ProfileEN16931
	ProfileExtended  = model.ProfileExtended
	ProfileXRechnung = model.ProfileXRechnung
)

// Re-export error types
type (
	ParseError              = model.ParseError
	ValidationError         = model.ValidationError
	ValidationErrors        = model.ValidationErrors
	TransportError          = model.TransportError
	BusinessRejection       = model.BusinessRejection
	UnsupportedJurisdiction = model.UnsupportedJurisdictionError
)

// ErrorCode returns the stable code of an engine error
func ErrorCode(err error) string {
	return model.ErrorCode(err)
}

// DecodeRequest reads a JSON invoice request
func DecodeRequest(data []byte) (*InvoiceRequest, error) {
	return processor.DecodeRequest(data)
}
