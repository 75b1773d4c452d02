package app_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/app"
	"github.com/rezonia/einvoicing/internal/config"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/processor"
	"github.com/rezonia/einvoicing/internal/signature"
	sigxml "github.com/rezonia/einvoicing/internal/signature/xml"
)

const invoiceJSON = `{
  "country": "DE",
  "id": "de-0001",
  "number": "RE-2026-0001",
  "issueDate": "2026-03-01",
  "currency": "EUR",
  "seller": {
    "name": "Werkstatt GmbH",
    "taxId": "DE123456789",
    "address": {"street": "Hauptstr. 1", "city": "Berlin", "postalCode": "10115", "country": "DE"}
  },
  "buyer": {"name": "Kunde AG", "address": {"city": "Hamburg", "country": "DE"}},
  "lines": [{"description": "Wartung", "quantity": "1", "unitPrice": "100", "taxRate": "19"}]
}`

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	return cfg
}

// writeKeyPair writes a self-signed certificate and its key as PEM files
func writeKeyPair(t *testing.T, dir string) (certFile, keyFile string, key *rsa.PrivateKey, cert *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(11),
		Subject:               pkix.Name{CommonName: "Werkstatt GmbH"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o600))
	require.NoError(t, os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}), 0o600))
	return certFile, keyFile, key, cert
}

func TestNew_Defaults(t *testing.T) {
	a, err := app.New(loadConfig(t))
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]model.Country{model.CountryFrance, model.CountryGermany, model.CountrySpain},
		a.Registry.Countries())

	req, err := processor.DecodeRequest([]byte(invoiceJSON))
	require.NoError(t, err)
	res, err := a.Pipeline.Validate(req)
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Messages)

	_, err = a.Pipeline.Verify(context.Background(), []byte("<x/>"))
	assert.ErrorIs(t, err, processor.ErrVerificationDisabled)

	families, err := a.Metrics.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNew_SigningAndTrust(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile, key, cert := writeKeyPair(t, dir)

	cfg := loadConfig(t)
	cfg.Signing.CertFile = certFile
	cfg.Signing.KeyFile = keyFile
	cfg.Signing.TrustCAFile = certFile

	a, err := app.New(cfg)
	require.NoError(t, err)

	req, err := processor.DecodeRequest([]byte(invoiceJSON))
	require.NoError(t, err)
	doc, err := a.Pipeline.Generate(req, processor.GenerateOptions{})
	require.NoError(t, err)

	signer, err := sigxml.NewSigner(key, cert)
	require.NoError(t, err)
	signed, err := signer.Sign(doc.Content)
	require.NoError(t, err)

	res, err := a.Pipeline.Verify(context.Background(), signed)
	require.NoError(t, err)
	assert.True(t, res.Valid, "errors: %v", res.Errors)
	assert.Equal(t, signature.DocumentCII, res.Document)
}

func TestNew_BadMaterial(t *testing.T) {
	dir := t.TempDir()
	bogus := filepath.Join(dir, "bogus.pem")
	require.NoError(t, os.WriteFile(bogus, []byte("not pem"), 0o600))

	tests := []struct {
		name   string
		mutate func(c *config.Config)
	}{
		{name: "unreadable signing pair", mutate: func(c *config.Config) {
			c.Signing.CertFile = bogus
			c.Signing.KeyFile = bogus
		}},
		{name: "missing CA file", mutate: func(c *config.Config) {
			c.Signing.TrustCAFile = filepath.Join(dir, "absent.pem")
		}},
		{name: "CA file without certificates", mutate: func(c *config.Config) {
			c.Signing.TrustCAFile = bogus
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadConfig(t)
			tt.mutate(cfg)
			_, err := app.New(cfg)
			assert.Error(t, err)
		})
	}
}
