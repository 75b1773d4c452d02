package xml

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/rezonia/einvoicing/internal/signature"
)

// Signer adds an enveloped RSA-SHA256 XMLDSig signature to the document root
type Signer struct {
	key   *rsa.PrivateKey
	chain [][]byte
	leaf  *x509.Certificate
}

// NewSigner creates a signer from an RSA key and its certificate chain, leaf first
func NewSigner(key *rsa.PrivateKey, chain ...*x509.Certificate) (*Signer, error) {
	if key == nil {
		return nil, signature.ErrKeyMaterial("key", fmt.Errorf("no private key"))
	}
	if len(chain) == 0 || chain[0] == nil {
		return nil, signature.ErrKeyMaterial("certificate", fmt.Errorf("no signing certificate"))
	}
	s := &Signer{key: key, leaf: chain[0]}
	for _, c := range chain {
		s.chain = append(s.chain, c.Raw)
	}
	return s, nil
}

// LoadSigner parses a PEM certificate chain and its RSA private key
func LoadSigner(certPEM, keyPEM []byte) (*Signer, error) {
	pair, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, signature.ErrKeyMaterial("keypair", err)
	}
	return fromKeyPair(pair)
}

// LoadSignerFiles reads a PEM certificate chain and key from disk
func LoadSignerFiles(certFile, keyFile string) (*Signer, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, signature.ErrKeyMaterial("keypair", err)
	}
	return fromKeyPair(pair)
}

func fromKeyPair(pair tls.Certificate) (*Signer, error) {
	key, ok := pair.PrivateKey.(*rsa.PrivateKey)
	if !ok {
		return nil, signature.ErrKeyMaterial("key", fmt.Errorf("RSA key required, got %T", pair.PrivateKey))
	}
	chain := make([]*x509.Certificate, 0, len(pair.Certificate))
	for _, der := range pair.Certificate {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, signature.ErrKeyMaterial("certificate", err)
		}
		chain = append(chain, c)
	}
	return NewSigner(key, chain...)
}

// Certificate returns the signing certificate
func (s *Signer) Certificate() *x509.Certificate {
	return s.leaf
}

// Sign returns data with a signature appended to its root element. RSA
// PKCS#1 v1.5 signatures are deterministic, so equal input gives equal output.
func (s *Signer) Sign(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, signature.ErrSigningFailed(err)
	}
	root := doc.Root()
	if root == nil {
		return nil, signature.ErrSigningFailed(fmt.Errorf("empty XML document"))
	}

	ctx, err := dsig.NewSigningContext(s.key, s.chain)
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, signature.ErrSigningFailed(err)
	}

	signed, err := ctx.SignEnveloped(root)
	if err != nil {
		return nil, signature.ErrSigningFailed(err)
	}
	doc.SetRoot(signed)
	return doc.WriteToBytes()
}

var _ signature.Signer = (*Signer)(nil)
