package signature_test

import (
	"context"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/signature"
)

func TestVerificationResult_JSON(t *testing.T) {
	signed := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	r := signature.NewVerificationResult()
	r.SignatureFound = true
	r.SignatureValid = true
	r.CertChainValid = true
	r.NotRevoked = true
	r.SignedAt = &signed
	r.Format = signature.FormatXML
	r.Document = signature.DocumentSII
	r.CertChain = []*x509.Certificate{{Raw: []byte("secret")}}
	r.ComputeValidity()

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, true, out["valid"])
	assert.Equal(t, "SII", out["document"])
	assert.Equal(t, "2026-03-01T10:00:00Z", out["signedAt"])
	assert.NotContains(t, out, "CertChain")
	assert.NotContains(t, out, "signer")
	assert.NotContains(t, out, "warnings")
}

func TestVerificationResult_SetSigner(t *testing.T) {
	cert := &x509.Certificate{
		SerialNumber: big.NewInt(42),
		Subject:      pkix.Name{CommonName: "Pianos Rezonia SL", Organization: []string{"Rezonia"}},
		Issuer:       pkix.Name{Organization: []string{"FNMT-RCM"}},
		NotBefore:    time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		NotAfter:     time.Date(2028, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	r := signature.NewVerificationResult()
	r.SetSigner(nil)
	assert.Nil(t, r.Signer)

	r.SetSigner(cert)
	require.NotNil(t, r.Signer)
	assert.Equal(t, "Pianos Rezonia SL", r.Signer.Name)
	assert.Equal(t, "Rezonia", r.Signer.Organization)
	assert.Equal(t, "42", r.Signer.SerialNumber)
	assert.Equal(t, "FNMT-RCM", r.Signer.Issuer)
}

func TestVerificationResult_ComputeValidity(t *testing.T) {
	tests := []struct {
		name  string
		setup func(r *signature.VerificationResult)
		valid bool
	}{
		{
			name: "all checks pass",
			setup: func(r *signature.VerificationResult) {
				r.SignatureFound, r.SignatureValid, r.CertChainValid, r.NotRevoked = true, true, true, true
			},
			valid: true,
		},
		{
			name: "bad signature",
			setup: func(r *signature.VerificationResult) {
				r.SignatureFound, r.CertChainValid, r.NotRevoked = true, true, true
			},
		},
		{
			name: "revoked",
			setup: func(r *signature.VerificationResult) {
				r.SignatureFound, r.SignatureValid, r.CertChainValid = true, true, true
			},
		},
		{
			name: "recorded error",
			setup: func(r *signature.VerificationResult) {
				r.SignatureFound, r.SignatureValid, r.CertChainValid, r.NotRevoked = true, true, true, true
				r.AddError("digest mismatch")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := signature.NewVerificationResult()
			tt.setup(r)
			r.ComputeValidity()
			assert.Equal(t, tt.valid, r.Valid)
		})
	}
}

type fakeVerifier struct {
	format string
	prefix string
}

func (f fakeVerifier) Verify(context.Context, []byte) (*signature.VerificationResult, error) {
	r := signature.NewVerificationResult()
	r.Format = f.format
	return r, nil
}

func (f fakeVerifier) CanVerify(data []byte) bool {
	return len(data) >= len(f.prefix) && string(data[:len(f.prefix)]) == f.prefix
}

func (f fakeVerifier) Format() string { return f.format }

func TestVerifierRegistry(t *testing.T) {
	reg := signature.NewVerifierRegistry(fakeVerifier{format: "xml", prefix: "<"}, nil)
	assert.Equal(t, []string{"xml"}, reg.AvailableFormats())
	assert.NotNil(t, reg.GetVerifier("xml"))
	assert.Nil(t, reg.GetVerifier("pdf"))

	res, err := reg.Verify(context.Background(), []byte("<doc/>"))
	require.NoError(t, err)
	assert.Equal(t, "xml", res.Format)

	_, err = reg.Verify(context.Background(), []byte("%PDF-1.7"))
	var sigErr *signature.SignatureError
	require.ErrorAs(t, err, &sigErr)
	assert.Equal(t, signature.ErrCodeUnsupportedFormat, sigErr.Code)
}
