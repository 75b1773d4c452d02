package xml

import (
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/signature"
)

func TestSignatureExtractor_CanExtract(t *testing.T) {
	extractor := NewSignatureExtractor()

	tests := []struct {
		name     string
		data     []byte
		expected bool
	}{
		{
			name:     "XML with Signature",
			data:     []byte(`<?xml version="1.0"?><Invoice><Data>test</Data><Signature xmlns="http://www.w3.org/2000/09/xmldsig#"><SignedInfo/></Signature></Invoice>`),
			expected: true,
		},
		{
			name:     "XML with ds:Signature",
			data:     []byte(`<?xml version="1.0"?><Invoice><ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#"><ds:SignedInfo/></ds:Signature></Invoice>`),
			expected: true,
		},
		{
			name:     "XML without Signature",
			data:     []byte(`<?xml version="1.0"?><Invoice><Data>test</Data></Invoice>`),
			expected: false,
		},
		{
			name:     "not XML",
			data:     []byte(`%PDF-1.7 Signature`),
			expected: false,
		},
		{
			name:     "too short",
			data:     []byte(`<a/>`),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, extractor.CanExtract(tt.data))
		})
	}
}

func TestSignatureExtractor_Extract(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<rsm:CrossIndustryInvoice xmlns:rsm="urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100">
  <rsm:ExchangedDocument><ID>F-2026-001</ID></rsm:ExchangedDocument>
  <ds:Signature xmlns:ds="http://www.w3.org/2000/09/xmldsig#">
    <ds:SignedInfo/>
    <ds:KeyInfo><ds:X509Data><ds:X509Certificate>
      TUlJQg==
    </ds:X509Certificate></ds:X509Data></ds:KeyInfo>
  </ds:Signature>
</rsm:CrossIndustryInvoice>`)

	res, err := NewSignatureExtractor().Extract(data)
	require.NoError(t, err)
	assert.Equal(t, "Signature", res.SignatureElement.Tag)
	assert.Equal(t, "CrossIndustryInvoice", res.SignedElement.Tag)
	assert.Equal(t, signature.DocumentCII, res.Kind)

	certData, err := ExtractCertificateData(res.SignatureElement)
	require.NoError(t, err)
	assert.Equal(t, "TUlJQg==", string(certData))
}

func TestSignatureExtractor_Extract_Errors(t *testing.T) {
	tests := []struct {
		name string
		data string
		msg  string
	}{
		{name: "malformed", data: `<Invoice><unclosed></Invoice>`, msg: "failed to parse XML"},
		{name: "empty", data: ``, msg: "empty XML document"},
		{name: "unsigned", data: `<Invoice><ID>1</ID></Invoice>`, msg: "no Signature element"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSignatureExtractor().Extract([]byte(tt.data))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestFindSignatureElement_PrefersRootChild(t *testing.T) {
	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromString(`<Invoice>
  <Attachment><Signature id="nested"/></Attachment>
  <Signature id="root"/>
</Invoice>`))

	sig := findSignatureElement(doc.Root())
	require.NotNil(t, sig)
	assert.Equal(t, "root", sig.SelectAttrValue("id", ""))
}

func TestDetectKind(t *testing.T) {
	tests := []struct {
		name string
		xml  string
		want string
	}{
		{name: "CII", xml: `<rsm:CrossIndustryInvoice xmlns:rsm="urn:x"/>`, want: signature.DocumentCII},
		{name: "SII body", xml: `<siiLR:SuministroLRFacturasEmitidas xmlns:siiLR="urn:x"/>`, want: signature.DocumentSII},
		{
			name: "SII envelope",
			xml:  `<soapenv:Envelope xmlns:soapenv="urn:s"><soapenv:Body><siiLR:SuministroLRFacturasEmitidas xmlns:siiLR="urn:x"/></soapenv:Body></soapenv:Envelope>`,
			want: signature.DocumentSII,
		},
		{name: "UBL invoice", xml: `<Invoice/>`, want: signature.DocumentUBL},
		{name: "UBL credit note", xml: `<CreditNote/>`, want: signature.DocumentUBL},
		{name: "other envelope", xml: `<Envelope><Body/></Envelope>`, want: signature.DocumentUnknown},
		{name: "unknown", xml: `<Order/>`, want: signature.DocumentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := etree.NewDocument()
			require.NoError(t, doc.ReadFromString(tt.xml))
			assert.Equal(t, tt.want, DetectKind(doc.Root()))
		})
	}
}
