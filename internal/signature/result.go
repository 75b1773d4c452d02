// Package signature signs outbound invoice documents and verifies the
// signatures of inbound ones.
package signature

import (
	"crypto/x509"
	"time"
)

// Document kinds recognised in signed files
const (
	DocumentCII     = "CII"
	DocumentSII     = "SII"
	DocumentUBL     = "UBL"
	DocumentUnknown = "unknown"
)

// VerificationResult contains the complete signature verification outcome
type VerificationResult struct {
	// Valid is true only if all checks pass
	Valid bool `json:"valid"`

	SignatureFound bool `json:"signatureFound"`
	SignatureValid bool `json:"signatureValid"`
	CertChainValid bool `json:"certChainValid"`
	NotRevoked     bool `json:"notRevoked"`

	Signer   *SignerInfo `json:"signer,omitempty"`
	SignedAt *time.Time  `json:"signedAt,omitempty"`

	// CertChain is not serialized
	CertChain []*x509.Certificate `json:"-"`

	Warnings []string `json:"warnings,omitempty"`
	Errors   []string `json:"errors,omitempty"`

	// Format of the verified file (xml)
	Format string `json:"format,omitempty"`
	// Document is the invoice syntax found in the file (CII, SII, UBL)
	Document string `json:"document,omitempty"`
}

// SignerInfo contains certificate subject information
type SignerInfo struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serialNumber"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"validFrom"`
	ValidTo      time.Time `json:"validTo"`
}

// NewVerificationResult creates a new empty result
func NewVerificationResult() *VerificationResult {
	return &VerificationResult{
		Warnings: make([]string, 0),
		Errors:   make([]string, 0),
	}
}

// AddWarning adds a warning message to the result
func (r *VerificationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError adds an error message and sets Valid to false
func (r *VerificationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// SetSigner populates SignerInfo from an x509 certificate
func (r *VerificationResult) SetSigner(cert *x509.Certificate) {
	if cert == nil {
		return
	}

	signer := &SignerInfo{
		Name:         cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}
	if len(cert.Subject.Organization) > 0 {
		signer.Organization = cert.Subject.Organization[0]
	}
	if cert.Issuer.CommonName != "" {
		signer.Issuer = cert.Issuer.CommonName
	} else if len(cert.Issuer.Organization) > 0 {
		signer.Issuer = cert.Issuer.Organization[0]
	}

	r.Signer = signer
}

// ComputeValidity sets the Valid field based on individual check results
func (r *VerificationResult) ComputeValidity() {
	r.Valid = r.SignatureFound &&
		r.SignatureValid &&
		r.CertChainValid &&
		r.NotRevoked &&
		len(r.Errors) == 0
}
