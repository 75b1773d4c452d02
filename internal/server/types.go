package server

import (
	"net/http"

	"github.com/rezonia/einvoicing/internal/fiscal"
	"github.com/rezonia/einvoicing/internal/model"
)

// CountryResponse describes one country of the fiscal reference data
type CountryResponse struct {
	fiscal.CountrySummary
	// EInvoicing is true when invoices can be generated and sent for the country
	EInvoicing bool `json:"eInvoicing"`
}

// CountriesResponse is the response for the countries endpoint
type CountriesResponse struct {
	Countries []CountryResponse `json:"countries"`
}

// ValidationResponse is the response for validate endpoint
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// DocumentResponse is the response for generate endpoint
type DocumentResponse struct {
	Country   model.Country `json:"country"`
	Profile   model.Profile `json:"profile,omitempty"`
	Format    string        `json:"format"`
	MediaType string        `json:"mediaType"`
	FileName  string        `json:"fileName"`
	Hash      string        `json:"hash"`
	Content   []byte        `json:"content"`
}

// StatusResponse is the response for status endpoint
type StatusResponse struct {
	InvoiceID string        `json:"invoiceId"`
	Country   model.Country `json:"country"`
	Status    model.Status  `json:"status"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

// httpStatus maps an engine error code to the HTTP status returned
func httpStatus(code string) int {
	switch code {
	case model.ErrCodeValidation, model.ErrCodeBusinessRejection:
		return http.StatusUnprocessableEntity
	case model.ErrCodeUnsupportedJurisdiction, model.ErrCodeParse:
		return http.StatusBadRequest
	case model.ErrCodeAlreadySent, model.ErrCodeAlreadyRejected, model.ErrCodeHashMismatch, model.ErrCodeInvalidState:
		return http.StatusConflict
	case model.ErrCodeTransport:
		return http.StatusBadGateway
	case model.ErrCodeCancelled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}
