// Package hybrid embeds structured invoice XML into a caller-supplied PDF,
// producing Factur-X / ZUGFeRD hybrid documents.
package hybrid

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/logger"
)

// Attachment names mandated by the hybrid formats
const (
	FacturXName   = "factur-x.xml"
	XRechnungName = "xrechnung.xml"
)

// Embedder attaches XML payloads to PDF documents
type Embedder struct {
	conf   *pdfmodel.Configuration
	logger zerolog.Logger
}

// Option configures an Embedder
type Option func(*Embedder)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(e *Embedder) {
		e.logger = l
	}
}

// NewEmbedder creates an embedder with pdfcpu's default configuration
func NewEmbedder(opts ...Option) *Embedder {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed

	e := &Embedder{
		conf:   conf,
		logger: logger.WithComponent("hybrid"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed returns a copy of basePDF carrying xml as an attachment named name
func (e *Embedder) Embed(basePDF, xml []byte, name string) ([]byte, error) {
	if len(basePDF) == 0 {
		return nil, fmt.Errorf("base PDF is empty")
	}
	if err := api.Validate(bytes.NewReader(basePDF), e.conf); err != nil {
		return nil, fmt.Errorf("invalid base PDF: %w", err)
	}

	// pdfcpu attaches files from disk under their base name
	dir, err := os.MkdirTemp("", "einvoicing-hybrid-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, xml, 0o600); err != nil {
		return nil, fmt.Errorf("failed to stage attachment: %w", err)
	}

	var out bytes.Buffer
	if err := api.AddAttachments(bytes.NewReader(basePDF), &out, []string{path}, false, e.conf); err != nil {
		return nil, fmt.Errorf("failed to embed %s: %w", name, err)
	}

	e.logger.Debug().
		Str("attachment", name).
		Int("xml_bytes", len(xml)).
		Int("pdf_bytes", out.Len()).
		Msg("embedded XML into PDF")

	return out.Bytes(), nil
}

// Attachments lists the names of files embedded in a PDF
func (e *Embedder) Attachments(pdf []byte) ([]string, error) {
	atts, err := api.ExtractAttachmentsRaw(bytes.NewReader(pdf), "", nil, e.conf)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachments: %w", err)
	}
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.FileName)
	}
	return names, nil
}

// ExtractXML returns the first XML attachment of a hybrid PDF and its name
func (e *Embedder) ExtractXML(pdf []byte) ([]byte, string, error) {
	atts, err := api.ExtractAttachmentsRaw(bytes.NewReader(pdf), "", nil, e.conf)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read attachments: %w", err)
	}
	for _, a := range atts {
		if !strings.EqualFold(filepath.Ext(a.FileName), ".xml") {
			continue
		}
		data, err := io.ReadAll(a)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read %s: %w", a.FileName, err)
		}
		return data, a.FileName, nil
	}
	return nil, "", fmt.Errorf("no XML attachment found")
}
