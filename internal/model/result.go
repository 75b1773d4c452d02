package model

import (
	"crypto/sha256"
	"encoding/hex"
)

// ValidationResult collects every violation found on an invoice
type ValidationResult struct {
	Valid    bool               `json:"valid"`
	Errors   []*ValidationError `json:"-"`
	Messages []string           `json:"errors,omitempty"`
	Warnings []string           `json:"warnings,omitempty"`
}

// NewValidationResult creates an empty, valid result
func NewValidationResult() *ValidationResult {
	return &ValidationResult{
		Valid:    true,
		Errors:   make([]*ValidationError, 0),
		Messages: make([]string, 0),
		Warnings: make([]string, 0),
	}
}

// AddError adds a violation and sets Valid to false
func (r *ValidationResult) AddError(err *ValidationError) {
	r.Errors = append(r.Errors, err)
	r.Messages = append(r.Messages, err.Error())
	r.Valid = false
}

// AddWarning adds a non-blocking remark
func (r *ValidationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// Merge appends the errors and warnings of other
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		r.AddError(e)
	}
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// HasRule reports whether any error was raised for the given rule
func (r *ValidationResult) HasRule(rule string) bool {
	for _, e := range r.Errors {
		if e.Rule == rule {
			return true
		}
	}
	return false
}

// Err returns the violations as an error, or nil when valid
func (r *ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return ValidationErrors(r.Errors)
}

// SendResult is the outcome of one send attempt. It is never mutated after creation.
type SendResult struct {
	Success          bool   `json:"success"`
	InvoiceID        string `json:"invoiceId"`
	Hash             string `json:"hash,omitempty"`
	RegistrationCode string `json:"registrationCode,omitempty"`
	Status           Status `json:"status,omitempty"`
	Attempts         int    `json:"attempts,omitempty"`
	ErrorCode        string `json:"errorCode,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`
}

// FailedSend builds a failed result from an error
func FailedSend(invoiceID string, err error) SendResult {
	return SendResult{
		Success:      false,
		InvoiceID:    invoiceID,
		ErrorCode:    ErrorCode(err),
		ErrorMessage: err.Error(),
	}
}

// Document formats
const (
	FormatXML = "xml"
	FormatPDF = "pdf"
)

// Document is a generated, jurisdiction-specific artifact
type Document struct {
	Country   Country `json:"country"`
	Profile   Profile `json:"profile,omitempty"`
	Format    string  `json:"format"`
	MediaType string  `json:"mediaType"`
	FileName  string  `json:"fileName"`
	Content   []byte  `json:"content"`
	// XML is the structured payload; equal to Content for XML documents
	XML []byte `json:"-"`
}

// Hash returns the hex SHA-256 of the structured payload. Hybrid PDF
// containers carry writer timestamps, so only the embedded XML is hashed.
func (d *Document) Hash() string {
	payload := d.XML
	if len(payload) == 0 {
		payload = d.Content
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
