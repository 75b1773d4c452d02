// Package xml signs invoice XML with enveloped XMLDSig signatures and
// verifies signed documents.
package xml

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/rezonia/einvoicing/internal/signature"
)

// XMLDSigNamespace is the XML Signature namespace
const XMLDSigNamespace = "http://www.w3.org/2000/09/xmldsig#"

// SignatureExtractor locates the XMLDSig signature of an invoice document
type SignatureExtractor struct{}

// NewSignatureExtractor creates a new signature extractor
func NewSignatureExtractor() *SignatureExtractor {
	return &SignatureExtractor{}
}

// ExtractionResult contains the extracted signature and related elements
type ExtractionResult struct {
	// SignatureElement is the <Signature> element
	SignatureElement *etree.Element
	// SignedElement is the element carrying the enveloped signature
	SignedElement *etree.Element
	Document      *etree.Document
	// Kind is the invoice syntax of the document (CII, SII, UBL)
	Kind string
}

// Extract parses data and finds its signature
func (e *SignatureExtractor) Extract(data []byte) (*ExtractionResult, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("failed to parse XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("empty XML document")
	}

	sig := findSignatureElement(root)
	if sig == nil {
		return nil, fmt.Errorf("no Signature element found in document")
	}

	signed := sig.Parent()
	if signed == nil {
		signed = root
	}

	return &ExtractionResult{
		SignatureElement: sig,
		SignedElement:    signed,
		Document:         doc,
		Kind:             DetectKind(root),
	}, nil
}

// findSignatureElement prefers a signature directly under the root, then
// any Signature element in the tree
func findSignatureElement(root *etree.Element) *etree.Element {
	for _, child := range root.ChildElements() {
		if isSignature(child) {
			return child
		}
	}
	return findElementRecursive(root, "Signature")
}

func isSignature(el *etree.Element) bool {
	if el.Tag != "Signature" {
		return false
	}
	return el.NamespaceURI() == XMLDSigNamespace || el.Space == "" || el.Space == "ds"
}

func findElementRecursive(elem *etree.Element, localName string) *etree.Element {
	if elem.Tag == localName {
		return elem
	}
	for _, child := range elem.ChildElements() {
		if found := findElementRecursive(child, localName); found != nil {
			return found
		}
	}
	return nil
}

// DetectKind identifies the invoice syntax from the document structure
func DetectKind(root *etree.Element) string {
	switch root.Tag {
	case "CrossIndustryInvoice":
		return signature.DocumentCII
	case "SuministroLRFacturasEmitidas":
		return signature.DocumentSII
	case "Invoice", "CreditNote":
		return signature.DocumentUBL
	case "Envelope":
		if root.FindElement("//SuministroLRFacturasEmitidas") != nil {
			return signature.DocumentSII
		}
	}
	return signature.DocumentUnknown
}

// ExtractCertificateData returns the base64 certificate of a Signature element
func ExtractCertificateData(sig *etree.Element) ([]byte, error) {
	// prefix-free paths match any namespace
	if certElem := sig.FindElement("KeyInfo/X509Data/X509Certificate"); certElem != nil {
		if text := strings.TrimSpace(certElem.Text()); text != "" {
			return []byte(text), nil
		}
	}
	return nil, fmt.Errorf("no X509Certificate found in Signature")
}

// CanExtract reports whether data looks like signed XML
func (e *SignatureExtractor) CanExtract(data []byte) bool {
	if !looksLikeXML(data) {
		return false
	}
	return bytes.Contains(data, []byte("<Signature")) || bytes.Contains(data, []byte(":Signature"))
}

func looksLikeXML(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) >= 5 && trimmed[0] == '<'
}
