// Package xml reads generated or received e-invoice documents back into a
// summary used for inspection and round-trip checks.
package xml

import (
	"bytes"
	"context"
	"io"

	"github.com/rezonia/einvoicing/internal/model"
)

// Document formats recognised by the registry
const (
	FormatCII = "CII"
	FormatSII = "SII"
)

// Adapter parses one document syntax into a ParsedInvoice
type Adapter interface {
	// Parse parses XML content into a ParsedInvoice
	Parse(ctx context.Context, r io.Reader) (*ParsedInvoice, error)

	// CanParse returns true if adapter can handle this content
	CanParse(content []byte) bool

	// Format returns the document syntax handled
	Format() string
}

// Registry holds all registered adapters
type Registry struct {
	adapters []Adapter
}

// NewRegistry creates registry with all adapters
func NewRegistry() *Registry {
	return &Registry{
		adapters: []Adapter{
			NewCIIAdapter(),
			NewSIIAdapter(),
		},
	}
}

// Detect identifies the document syntax from XML content
func (r *Registry) Detect(content []byte) (Adapter, error) {
	for _, a := range r.adapters {
		if a.CanParse(content) {
			return a, nil
		}
	}
	return nil, model.NewParseError("unknown", "root", "unknown XML format, no matching adapter found", nil)
}

// Parse parses XML using appropriate adapter
func (r *Registry) Parse(ctx context.Context, content []byte) (*ParsedInvoice, error) {
	adapter, err := r.Detect(content)
	if err != nil {
		return nil, err
	}
	return adapter.Parse(ctx, bytes.NewReader(content))
}

// RegisterAdapter adds a custom adapter to the registry
func (r *Registry) RegisterAdapter(a Adapter) {
	// custom adapters take priority
	r.adapters = append([]Adapter{a}, r.adapters...)
}

// GetAdapter returns adapter for a specific format
func (r *Registry) GetAdapter(format string) Adapter {
	for _, a := range r.adapters {
		if a.Format() == format {
			return a
		}
	}
	return nil
}
