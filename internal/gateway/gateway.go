// Package gateway submits generated documents to jurisdiction channels and
// drives the GENERATED -> SENT -> ACCEPTED/REJECTED part of the lifecycle.
// Sends are idempotent per document hash.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/rezonia/einvoicing/internal/ledger"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

// DefaultTimeout bounds one channel call when no per-country timeout is set
const DefaultTimeout = 30 * time.Second

// BackoffConfig configures retry backoff for retryable errors
type BackoffConfig struct {
	InitialDelay time.Duration // delay before the first retry (default: 200ms)
	MaxDelay     time.Duration // maximum delay between retries (default: 5s)
	MaxRetries   int           // maximum number of retries (default: 3)
	Multiplier   float64       // growth factor between delays (default: 2.0)
}

// Config configures a Gateway
type Config struct {
	// Timeout bounds each channel call
	Timeout time.Duration
	// Timeouts overrides Timeout per jurisdiction
	Timeouts map[model.Country]time.Duration

	Backoff BackoffConfig
	// NoRetry disables retries, ignoring Backoff.MaxRetries
	NoRetry bool

	Store      ledger.Store
	Registerer prometheus.Registerer
	Metrics    *Metrics
	Tracer     trace.Tracer
	Logger     *zerolog.Logger
}

// SendRequest is one request to transmit a generated document
type SendRequest struct {
	Country  model.Country
	Invoice  *model.EInvoice
	Document *model.Document
	Hash     string
	Channel  Channel
	Resend   bool
	TenantID string
}

// Gateway serializes sends per invoice and per document hash
type Gateway struct {
	timeout  time.Duration
	timeouts map[model.Country]time.Duration
	backoff  BackoffConfig
	store    ledger.Store
	metrics  *Metrics
	tracer   trace.Tracer
	logger   zerolog.Logger

	group   singleflight.Group
	locks   *keyedMutex
	tracked sync.Map // invoice ID -> *model.EInvoice
}

// New creates a gateway, applying defaults to unset fields
func New(cfg Config) *Gateway {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff.InitialDelay == 0 {
		cfg.Backoff.InitialDelay = 200 * time.Millisecond
	}
	if cfg.Backoff.MaxDelay == 0 {
		cfg.Backoff.MaxDelay = 5 * time.Second
	}
	if cfg.Backoff.MaxRetries == 0 {
		cfg.Backoff.MaxRetries = 3
	}
	if cfg.NoRetry {
		cfg.Backoff.MaxRetries = 0
	}
	if cfg.Backoff.Multiplier == 0 {
		cfg.Backoff.Multiplier = 2.0
	}
	if cfg.Store == nil {
		cfg.Store = ledger.NewMemoryStore()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.Registerer)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("einvoicing/gateway")
	}

	g := &Gateway{
		timeout:  cfg.Timeout,
		timeouts: make(map[model.Country]time.Duration, len(cfg.Timeouts)),
		backoff:  cfg.Backoff,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		tracer:   cfg.Tracer,
		logger:   logger.WithComponent("gateway"),
		locks:    newKeyedMutex(),
	}
	for c, d := range cfg.Timeouts {
		g.timeouts[c] = d
	}
	if cfg.Logger != nil {
		g.logger = *cfg.Logger
	}
	return g
}

// Store returns the submission ledger
func (g *Gateway) Store() ledger.Store {
	return g.store
}

// Metrics returns the gateway's collectors
func (g *Gateway) Metrics() *Metrics {
	return g.metrics
}

// TimeoutFor returns the channel call timeout of a jurisdiction
func (g *Gateway) TimeoutFor(country model.Country) time.Duration {
	if d, ok := g.timeouts[country]; ok && d > 0 {
		return d
	}
	return g.timeout
}

// Send transmits req.Document. Concurrent identical requests share one
// submission; failures are reported in the result, never returned or panicked.
func (g *Gateway) Send(ctx context.Context, req SendRequest) model.SendResult {
	if req.Invoice == nil || req.Channel == nil || req.Hash == "" {
		return model.FailedSend("", fmt.Errorf("incomplete send request"))
	}

	key := req.Invoice.ID() + "|" + req.Hash
	if req.Resend {
		key += "|resend"
	}
	v, _, _ := g.group.Do(key, func() (interface{}, error) {
		return g.send(ctx, req), nil
	})
	return v.(model.SendResult)
}

func (g *Gateway) send(ctx context.Context, req SendRequest) (result model.SendResult) {
	inv := req.Invoice
	log := logger.WithInvoice(g.logger, inv.ID(), string(req.Country)).With().
		Str("hash", req.Hash).
		Str("channel", req.Channel.Name()).
		Logger()

	ctx, span := g.tracer.Start(ctx, "gateway.Send", trace.WithAttributes(
		attribute.String("invoice.id", inv.ID()),
		attribute.String("country", string(req.Country)),
		attribute.String("channel", req.Channel.Name()),
		attribute.Bool("resend", req.Resend),
	))
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("send panicked")
			result = model.FailedSend(inv.ID(), fmt.Errorf("internal error: %v", r))
			result.ErrorCode = model.ErrCodeInternal
		}
		span.SetAttributes(attribute.String("outcome", outcomeOf(result)))
		if !result.Success {
			span.SetStatus(codes.Error, result.ErrorMessage)
		}
		span.End()
		g.metrics.observeOutcome(req.Country, req.Channel.Name(), outcomeOf(result))
	}()

	g.tracked.Store(inv.ID(), inv)

	unlockInvoice := g.locks.Lock("invoice:" + inv.ID())
	defer unlockInvoice()
	unlockHash := g.locks.Lock("hash:" + req.Hash)
	defer unlockHash()

	switch status := inv.Status(); status {
	case model.StatusSent, model.StatusAccepted:
		return g.resend(ctx, req, status, log)
	case model.StatusRejected:
		return g.failure(inv, req.Hash, model.ErrCodeAlreadyRejected,
			"invoice was rejected; issue a corrected invoice instead")
	case model.StatusGenerated:
	default:
		return g.failure(inv, req.Hash, model.ErrCodeInvalidState,
			fmt.Sprintf("invoice is %s, expected %s", status, model.StatusGenerated))
	}

	if res, ok := g.fromLedger(ctx, req, log); ok {
		return res
	}
	return g.submit(ctx, req, log)
}

// resend handles invoices that already left GENERATED
func (g *Gateway) resend(ctx context.Context, req SendRequest, status model.Status, log zerolog.Logger) model.SendResult {
	inv := req.Invoice
	rec, err := g.store.Get(ctx, inv.ID())
	if err != nil {
		return g.failure(inv, req.Hash, model.ErrCodeAlreadySent, fmt.Sprintf("invoice is already %s", status))
	}

	if !req.Resend {
		res := g.failure(inv, req.Hash, model.ErrCodeAlreadySent, fmt.Sprintf("invoice is already %s", status))
		res.RegistrationCode = rec.RegistrationCode
		res.Status = status
		return res
	}
	if rec.Hash != req.Hash {
		return g.failure(inv, req.Hash, model.ErrCodeHashMismatch,
			"resend requires the same document; the content has changed since the first send")
	}

	if status == model.StatusSent {
		if err := inv.Lifecycle().Retry("explicit resend"); err != nil {
			return model.FailedSend(inv.ID(), err)
		}
	}
	log.Info().Str("registration_code", rec.RegistrationCode).Msg("resend answered with original registration")

	return model.SendResult{
		Success:          true,
		InvoiceID:        inv.ID(),
		Hash:             req.Hash,
		RegistrationCode: rec.RegistrationCode,
		Status:           inv.Status(),
		Attempts:         rec.Attempts,
	}
}

// fromLedger answers a send whose document was already acknowledged under
// another invoice ID
func (g *Gateway) fromLedger(ctx context.Context, req SendRequest, log zerolog.Logger) (model.SendResult, bool) {
	rec, err := g.store.GetByHash(ctx, req.Hash)
	if err != nil || rec.Status == model.StatusRejected || rec.RegistrationCode == "" {
		return model.SendResult{}, false
	}

	inv := req.Invoice
	if err := inv.Lifecycle().AdvanceTo(rec.Status, "identical document already registered"); err != nil {
		return model.FailedSend(inv.ID(), err), true
	}

	now := time.Now()
	if err := g.store.Save(ctx, &ledger.Record{
		InvoiceID:        inv.ID(),
		Country:          req.Country,
		Channel:          req.Channel.Name(),
		Hash:             req.Hash,
		RegistrationCode: rec.RegistrationCode,
		Status:           rec.Status,
		TenantID:         req.TenantID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record idempotent send")
	}

	g.metrics.observeIdempotentHit(req.Country)
	log.Info().Str("registration_code", rec.RegistrationCode).Msg("identical document already registered")

	return model.SendResult{
		Success:          true,
		InvoiceID:        inv.ID(),
		Hash:             req.Hash,
		RegistrationCode: rec.RegistrationCode,
		Status:           inv.Status(),
	}, true
}

func (g *Gateway) submit(ctx context.Context, req SendRequest, log zerolog.Logger) model.SendResult {
	inv := req.Invoice
	start := time.Now()
	defer g.metrics.observeDuration(req.Country, req.Channel.Name(), start)

	ack, attempts, err := g.submitWithBackoff(ctx, req, log)

	var rejection *model.BusinessRejection
	switch {
	case err == nil:
		return g.acknowledged(ctx, req, ack, attempts, log)

	case errors.As(err, &rejection):
		if !inv.Lifecycle().CompareAndSwap(model.StatusGenerated, model.StatusSent, "submitted to "+req.Channel.Name()) ||
			inv.Lifecycle().Advance(model.StatusRejected, rejection.Error()) != nil {
			return g.failure(inv, req.Hash, model.ErrCodeInvalidState, "invoice changed state during submission")
		}
		g.save(ctx, req, "", model.StatusRejected, attempts, log)
		log.Error().Str("code", rejection.Code).Str("reason", rejection.Message).Msg("submission rejected")

		res := model.FailedSend(inv.ID(), err)
		res.Hash = req.Hash
		res.Status = model.StatusRejected
		res.Attempts = attempts
		return res

	default:
		// no acknowledgement: the invoice stays GENERATED and may be sent again
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		log.Error().Err(err).Int("attempts", attempts).Msg("submission failed")

		res := model.FailedSend(inv.ID(), err)
		res.Hash = req.Hash
		res.Status = inv.Status()
		res.Attempts = attempts
		return res
	}
}

func (g *Gateway) acknowledged(ctx context.Context, req SendRequest, ack Ack, attempts int, log zerolog.Logger) model.SendResult {
	inv := req.Invoice
	if !inv.Lifecycle().CompareAndSwap(model.StatusGenerated, model.StatusSent, "submitted to "+req.Channel.Name()) {
		return g.failure(inv, req.Hash, model.ErrCodeInvalidState, "invoice changed state during submission")
	}

	status := model.StatusSent
	if ack.Status.Final() {
		if err := inv.Lifecycle().Advance(ack.Status, ack.Message); err != nil {
			return model.FailedSend(inv.ID(), err)
		}
		status = ack.Status
	}
	g.save(ctx, req, ack.RegistrationCode, status, attempts, log)

	log.Info().
		Str("registration_code", ack.RegistrationCode).
		Str("status", string(status)).
		Int("attempts", attempts).
		Msg("submission acknowledged")

	if status == model.StatusRejected {
		res := g.failure(inv, req.Hash, model.ErrCodeBusinessRejection, ack.Message)
		res.RegistrationCode = ack.RegistrationCode
		res.Status = status
		res.Attempts = attempts
		return res
	}

	return model.SendResult{
		Success:          true,
		InvoiceID:        inv.ID(),
		Hash:             req.Hash,
		RegistrationCode: ack.RegistrationCode,
		Status:           status,
		Attempts:         attempts,
	}
}

func (g *Gateway) save(ctx context.Context, req SendRequest, code string, status model.Status, attempts int, log zerolog.Logger) {
	now := time.Now()
	err := g.store.Save(ctx, &ledger.Record{
		InvoiceID:        req.Invoice.ID(),
		Country:          req.Country,
		Channel:          req.Channel.Name(),
		Hash:             req.Hash,
		RegistrationCode: code,
		Status:           status,
		Attempts:         attempts,
		TenantID:         req.TenantID,
		CreatedAt:        now,
		UpdatedAt:        now,
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to persist submission")
	}
}

// submitWithBackoff calls the channel with exponential backoff for retryable errors
func (g *Gateway) submitWithBackoff(ctx context.Context, req SendRequest, log zerolog.Logger) (Ack, int, error) {
	var lastErr error
	delay := g.backoff.InitialDelay
	timeout := g.TimeoutFor(req.Country)
	sub := Submission{Invoice: req.Invoice, Document: req.Document, Hash: req.Hash, TenantID: req.TenantID}

	attempts := 0
	for attempt := 0; attempt <= g.backoff.MaxRetries; attempt++ {
		if attempt > 0 {
			log.Warn().Err(lastErr).Int("attempt", attempt+1).Dur("delay", delay).Msg("retrying submission")
			select {
			case <-ctx.Done():
				return Ack{}, attempts, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * g.backoff.Multiplier)
			if delay > g.backoff.MaxDelay {
				delay = g.backoff.MaxDelay
			}
		}

		attempts++
		g.metrics.observeAttempt(req.Country, req.Channel.Name())
		ack, err := g.attempt(ctx, req.Channel, sub, attempts, timeout)
		if err == nil {
			return ack, attempts, nil
		}
		lastErr = err

		if ctx.Err() != nil || !model.IsRetryable(err) {
			return Ack{}, attempts, err
		}
	}
	return Ack{}, attempts, lastErr
}

func (g *Gateway) attempt(ctx context.Context, ch Channel, sub Submission, n int, timeout time.Duration) (Ack, error) {
	ctx, span := g.tracer.Start(ctx, "gateway.attempt", trace.WithAttributes(
		attribute.String("channel", ch.Name()),
		attribute.Int("attempt", n),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ack, err := ch.Submit(ctx, sub)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return ack, err
}

// Status returns the known status of an invoice, polling the channel while
// the invoice awaits a decision. Unknown invoices are DRAFT.
func (g *Gateway) Status(ctx context.Context, invoiceID string, ch Channel) (model.Status, error) {
	rec, err := g.store.Get(ctx, invoiceID)
	if errors.Is(err, model.ErrNotFound) {
		if v, ok := g.tracked.Load(invoiceID); ok {
			return v.(*model.EInvoice).Status(), nil
		}
		return model.StatusDraft, nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger lookup: %w", err)
	}
	if rec.Status != model.StatusSent || ch == nil || rec.RegistrationCode == "" {
		return rec.Status, nil
	}

	st, err := ch.Status(ctx, rec.RegistrationCode)
	if err != nil {
		g.logger.Warn().Err(err).Str("invoice_id", invoiceID).Msg("status poll failed")
		return rec.Status, nil
	}
	if !st.Final() {
		return rec.Status, nil
	}

	if err := g.store.UpdateStatus(ctx, invoiceID, st); err != nil {
		return rec.Status, fmt.Errorf("ledger update: %w", err)
	}
	if v, ok := g.tracked.Load(invoiceID); ok {
		_ = v.(*model.EInvoice).Lifecycle().AdvanceTo(st, "reported by "+ch.Name())
	}
	return st, nil
}

func (g *Gateway) failure(inv *model.EInvoice, hash, code, msg string) model.SendResult {
	return model.SendResult{
		Success:      false,
		InvoiceID:    inv.ID(),
		Hash:         hash,
		Status:       inv.Status(),
		ErrorCode:    code,
		ErrorMessage: msg,
	}
}

func outcomeOf(r model.SendResult) string {
	if r.Success {
		return "success"
	}
	if r.ErrorCode == "" {
		return "error"
	}
	return r.ErrorCode
}
