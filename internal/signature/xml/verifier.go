package xml

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/signature"
	"github.com/rezonia/einvoicing/internal/signature/trust"
)

// XMLVerifier verifies enveloped XMLDSig signatures
type XMLVerifier struct {
	trustStore *trust.TrustStore
	extractor  *SignatureExtractor
	logger     zerolog.Logger
}

// NewXMLVerifier creates a verifier trusting the CAs of ts
func NewXMLVerifier(ts *trust.TrustStore) *XMLVerifier {
	return &XMLVerifier{
		trustStore: ts,
		extractor:  NewSignatureExtractor(),
		logger:     logger.WithComponent("signature"),
	}
}

// Verify checks the signature, the signer's chain and its revocation status
func (v *XMLVerifier) Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error) {
	result := signature.NewVerificationResult()
	result.Format = signature.FormatXML

	extraction, err := v.extractor.Extract(data)
	if err != nil {
		result.AddError(err.Error())
		return result, signature.ErrNoSignature()
	}
	result.SignatureFound = true
	result.Document = extraction.Kind

	cert, chain, certErr := v.extractAndVerifyCertificate(extraction.SignatureElement)
	if cert != nil {
		result.SetSigner(cert)
	}

	// goxmldsig only trusts certificates it holds directly; a signer whose
	// chain verified is handed over as its own root
	roots := v.trustStore.RootCerts()
	if certErr == nil {
		roots = []*x509.Certificate{cert}
	}
	validation := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{Roots: roots})
	if _, err := validation.Validate(extraction.SignedElement); err != nil {
		result.AddError(fmt.Sprintf("signature validation failed: %v", err))
	} else {
		result.SignatureValid = true
	}

	if certErr != nil {
		result.AddError(fmt.Sprintf("certificate: %v", certErr))
	} else {
		result.CertChain = chain
		result.CertChainValid = true
		v.checkRevocation(ctx, result, cert, chain)
	}

	if t := extractSigningTime(extraction.SignatureElement); t != nil {
		result.SignedAt = t
	}

	result.ComputeValidity()
	v.logger.Debug().
		Bool("valid", result.Valid).
		Str("document", result.Document).
		Strs("errors", result.Errors).
		Msg("signature verified")
	return result, nil
}

func (v *XMLVerifier) checkRevocation(ctx context.Context, result *signature.VerificationResult, cert *x509.Certificate, chain []*x509.Certificate) {
	if len(chain) < 2 {
		result.NotRevoked = true
		result.AddWarning("revocation check skipped: no issuer certificate in chain")
		return
	}

	notRevoked, err := v.trustStore.CheckRevocation(ctx, cert, chain[1])
	switch {
	case err != nil && v.trustStore.IsSoftFail():
		result.AddWarning(fmt.Sprintf("OCSP check: %v", err))
		result.NotRevoked = true
	case err != nil:
		result.AddError(signature.ErrOCSPUnavailable(err).Error())
	case !notRevoked:
		result.AddError(signature.ErrCertRevoked(cert.Subject.CommonName).Error())
	default:
		result.NotRevoked = true
	}
}

// CanVerify reports whether data looks like XML
func (v *XMLVerifier) CanVerify(data []byte) bool {
	return looksLikeXML(data)
}

// Format returns the format this verifier handles
func (v *XMLVerifier) Format() string {
	return signature.FormatXML
}

func (v *XMLVerifier) extractAndVerifyCertificate(sigElem *etree.Element) (*x509.Certificate, []*x509.Certificate, error) {
	certData, err := ExtractCertificateData(sigElem)
	if err != nil {
		return nil, nil, err
	}

	der, err := base64.StdEncoding.DecodeString(string(certData))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	chain, err := v.trustStore.VerifyChain(cert, nil)
	if err != nil {
		return cert, nil, signature.ErrChainInvalid(err)
	}
	return cert, chain, nil
}

func extractSigningTime(sigElem *etree.Element) *time.Time {
	paths := []string{
		"Object/SignatureProperties/SignatureProperty/SigningTime",
		"Object/QualifyingProperties/SignedProperties/SignedSignatureProperties/SigningTime",
	}
	for _, path := range paths {
		elem := sigElem.FindElement(path)
		if elem == nil {
			continue
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
			if t, err := time.Parse(layout, elem.Text()); err == nil {
				return &t
			}
		}
	}
	return nil
}
