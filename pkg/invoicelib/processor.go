package invoicelib

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rezonia/einvoicing/internal/app"
	"github.com/rezonia/einvoicing/internal/config"
	"github.com/rezonia/einvoicing/internal/processor"
)

// Processor implements Engine and Reader using the internal pipeline
type Processor struct {
	pipeline *processor.Pipeline
	options  Options
}

var (
	_ Engine = (*Processor)(nil)
	_ Reader = (*Processor)(nil)
)

// NewProcessor creates a new invoice processor with the given options
func NewProcessor(opts Options) (*Processor, error) {
	cfg := config.Default()
	if opts.SendTimeout > 0 {
		cfg.Send.Timeout = opts.SendTimeout
	}
	cfg.Send.Retry.MaxRetries = opts.MaxRetries
	cfg.Database.DSN = opts.DatabaseDSN
	if opts.FacturXProfile != "" {
		cfg.FacturXProfile = opts.FacturXProfile
	}
	if opts.ChorusProEnv != "" {
		cfg.Chorus.Env = opts.ChorusProEnv
	}
	cfg.Chorus.Token = opts.ChorusProToken
	cfg.XRechnung.BaseURL = opts.XRechnungURL
	cfg.XRechnung.Token = opts.XRechnungToken
	if opts.AEATEnv != "" {
		cfg.AEAT.Env = opts.AEATEnv
	}
	cfg.Signing.CertFile = opts.SigningCertFile
	cfg.Signing.KeyFile = opts.SigningKeyFile
	cfg.Signing.TrustCAFile = opts.TrustCAFile

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a, err := app.New(cfg)
	if err != nil {
		return nil, err
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	return &Processor{pipeline: a.Pipeline, options: opts}, nil
}

// NewDefaultProcessor creates a processor with default options
func NewDefaultProcessor() (*Processor, error) {
	return NewProcessor(DefaultOptions())
}

// Countries lists the supported jurisdictions
func (p *Processor) Countries() []Country {
	return p.pipeline.Countries()
}

func (p *Processor) Validate(req *InvoiceRequest) (*ValidationResult, error) {
	return p.pipeline.Validate(req)
}

func (p *Processor) Generate(req *InvoiceRequest) (*Document, error) {
	return p.pipeline.Generate(req, processor.GenerateOptions{})
}

// GenerateHybrid embeds the CII document into basePDF
func (p *Processor) GenerateHybrid(req *InvoiceRequest, basePDF []byte) (*Document, error) {
	return p.pipeline.Generate(req, processor.GenerateOptions{BasePDF: basePDF})
}

func (p *Processor) Send(ctx context.Context, req *InvoiceRequest) SendResult {
	return p.pipeline.Send(ctx, req)
}

// SendBatch submits requests concurrently. Results keep the order of reqs.
func (p *Processor) SendBatch(ctx context.Context, reqs []*InvoiceRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.options.Concurrency)
	for i, req := range reqs {
		i, req := i, req
		g.Go(func() error {
			results[i] = BatchResult{Index: i, Result: p.pipeline.Send(ctx, req)}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (p *Processor) Status(ctx context.Context, country, invoiceID string) (Status, error) {
	return p.pipeline.Status(ctx, country, invoiceID)
}

func (p *Processor) Inspect(ctx context.Context, data []byte) (*ParsedInvoice, error) {
	return p.pipeline.Inspect(ctx, data)
}

func (p *Processor) Verify(ctx context.Context, data []byte) (*VerificationResult, error) {
	return p.pipeline.Verify(ctx, data)
}
