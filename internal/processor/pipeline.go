// Package processor runs invoices through the engine: it resolves the
// jurisdiction, builds the invoice and validates, generates, sends or
// inspects documents for the CLI and the HTTP API.
package processor

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/hybrid"
	"github.com/rezonia/einvoicing/internal/jurisdiction"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
	xmlparser "github.com/rezonia/einvoicing/internal/parser/xml"
	"github.com/rezonia/einvoicing/internal/signature"
)

// ErrVerificationDisabled is returned by Verify when no trust store was configured
var ErrVerificationDisabled = errors.New("signature verification is not configured")

// Pipeline orchestrates invoice processing
type Pipeline struct {
	registry  *jurisdiction.Registry
	parsers   *xmlparser.Registry
	verifiers *signature.VerifierRegistry
	embedder  *hybrid.Embedder
	logger    zerolog.Logger
}

// PipelineOption configures the pipeline
type PipelineOption func(*Pipeline)

// WithParsers sets the inbound document parsers
func WithParsers(r *xmlparser.Registry) PipelineOption {
	return func(p *Pipeline) {
		p.parsers = r
	}
}

// WithVerifiers enables signature verification
func WithVerifiers(r *signature.VerifierRegistry) PipelineOption {
	return func(p *Pipeline) {
		p.verifiers = r
	}
}

// WithEmbedder sets the hybrid PDF embedder
func WithEmbedder(e *hybrid.Embedder) PipelineOption {
	return func(p *Pipeline) {
		p.embedder = e
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// NewPipeline creates a pipeline over the registered jurisdictions
func NewPipeline(registry *jurisdiction.Registry, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		registry: registry,
		parsers:  xmlparser.NewRegistry(),
		logger:   logger.WithComponent("processor"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.embedder == nil {
		p.embedder = hybrid.NewEmbedder(hybrid.WithLogger(p.logger))
	}
	return p
}

// Countries lists the supported jurisdictions
func (p *Pipeline) Countries() []model.Country {
	return p.registry.Countries()
}

// Prepare resolves the strategy of a request and builds its invoice
func (p *Pipeline) Prepare(req *InvoiceRequest) (jurisdiction.Strategy, *model.EInvoice, error) {
	strategy, err := p.registry.ForCountry(req.Country)
	if err != nil {
		return nil, nil, err
	}
	inv, err := model.NewEInvoice(req.Params())
	if err != nil {
		return nil, nil, err
	}
	return strategy, inv, nil
}

// Validate runs the jurisdiction's rules. Invoices whose amounts do not
// reconcile are reported as an invalid result, not an error.
func (p *Pipeline) Validate(req *InvoiceRequest) (*model.ValidationResult, error) {
	strategy, inv, err := p.Prepare(req)
	if err != nil {
		var errs model.ValidationErrors
		if errors.As(err, &errs) {
			res := model.NewValidationResult()
			for _, e := range errs {
				res.AddError(e)
			}
			return res, nil
		}
		return nil, err
	}
	return strategy.Validate(inv), nil
}

// GenerateOptions tunes document generation
type GenerateOptions struct {
	// BasePDF, when set, turns a CII document into a hybrid PDF
	BasePDF []byte
}

// Generate renders the jurisdiction's document for a request
func (p *Pipeline) Generate(req *InvoiceRequest, opts GenerateOptions) (*model.Document, error) {
	strategy, inv, err := p.Prepare(req)
	if err != nil {
		return nil, err
	}
	doc, err := strategy.GenerateDocument(inv)
	if err != nil {
		return nil, err
	}
	if len(opts.BasePDF) == 0 || doc.Format == model.FormatPDF {
		return doc, nil
	}
	return p.toHybrid(doc, opts.BasePDF)
}

func (p *Pipeline) toHybrid(doc *model.Document, basePDF []byte) (*model.Document, error) {
	if doc.Profile == "" || doc.Profile == model.ProfileXRechnung {
		return nil, fmt.Errorf("hybrid PDF is not available for %s %s documents", doc.Country, doc.Profile)
	}
	pdf, err := p.embedder.Embed(basePDF, doc.XML, hybrid.FacturXName)
	if err != nil {
		return nil, err
	}
	out := *doc
	out.Format = model.FormatPDF
	out.MediaType = "application/pdf"
	out.FileName = "invoice.pdf"
	out.Content = pdf
	return &out, nil
}

// Send submits the invoice of a request. Failures are reported in the result.
func (p *Pipeline) Send(ctx context.Context, req *InvoiceRequest, opts ...jurisdiction.SendOption) model.SendResult {
	strategy, inv, err := p.Prepare(req)
	if err != nil {
		return model.FailedSend(req.ID, err)
	}
	result := strategy.Send(ctx, inv, opts...)
	log := logger.WithInvoice(p.logger, inv.ID(), string(strategy.Country()))
	log.Info().
		Bool("success", result.Success).
		Str("status", string(result.Status)).
		Str("error_code", result.ErrorCode).
		Msg("invoice sent")
	return result
}

// Status returns the status of a previously sent invoice
func (p *Pipeline) Status(ctx context.Context, country, invoiceID string) (model.Status, error) {
	strategy, err := p.registry.ForCountry(country)
	if err != nil {
		return "", err
	}
	return strategy.GetStatus(ctx, invoiceID)
}

// Inspect reads an XML document, or the XML embedded in a hybrid PDF
func (p *Pipeline) Inspect(ctx context.Context, data []byte) (*xmlparser.ParsedInvoice, error) {
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		xml, name, err := p.embedder.ExtractXML(data)
		if err != nil {
			return nil, model.NewParseError(model.FormatPDF, "attachment", "no embedded invoice", err)
		}
		p.logger.Debug().Str("attachment", name).Msg("inspecting embedded XML")
		data = xml
	}
	return p.parsers.Parse(ctx, data)
}

// Verify checks the XML signature of a document
func (p *Pipeline) Verify(ctx context.Context, data []byte) (*signature.VerificationResult, error) {
	if p.verifiers == nil {
		return nil, ErrVerificationDisabled
	}
	return p.verifiers.Verify(ctx, data)
}
