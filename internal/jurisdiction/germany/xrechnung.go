package germany

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/transport"
)

// DefaultXRechnungURL is the federal invoice receipt platform
const DefaultXRechnungURL = "https://xrechnung.bund.de"

// XRechnungChannelName identifies the platform in ledger records and metrics
const XRechnungChannelName = "xrechnung"

// XRechnungConfig configures the XRechnung channel
type XRechnungConfig struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient transport.HTTPDoer
	Logger     *zerolog.Logger
}

// XRechnungChannel submits B2G invoices to the receipt platform
type XRechnungChannel struct {
	client *transport.HTTPClient
}

// NewXRechnungChannel creates the channel
func NewXRechnungChannel(cfg XRechnungConfig) *XRechnungChannel {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultXRechnungURL
	}
	return &XRechnungChannel{
		client: transport.NewHTTPClient(transport.HTTPConfig{
			Channel:    XRechnungChannelName,
			BaseURL:    cfg.BaseURL,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
	}
}

// Name returns the channel name
func (c *XRechnungChannel) Name() string {
	return XRechnungChannelName
}

type receipt struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Submit uploads the XML addressed to the invoice's Leitweg-ID
func (c *XRechnungChannel) Submit(ctx context.Context, sub gateway.Submission) (gateway.Ack, error) {
	cfg := sub.Invoice.CountryConfig().Germany
	if !cfg.B2G() {
		return gateway.Ack{}, model.NewTransportError(model.TransportMisconfigured, XRechnungChannelName,
			"invoice has no Leitweg-ID", nil)
	}

	payload := sub.Document.XML
	if len(payload) == 0 {
		payload = sub.Document.Content
	}
	path := "/invoices?leitwegId=" + url.QueryEscape(cfg.LeitwegID)
	body, err := c.client.Do(ctx, http.MethodPost, path, "application/xml", payload)
	if err != nil {
		return gateway.Ack{}, err
	}

	var r receipt
	if err := json.Unmarshal(body, &r); err != nil || r.ID == "" {
		return gateway.Ack{}, model.NewTransportError(model.TransportBadResponse, XRechnungChannelName,
			"receipt carries no invoice id", err)
	}

	st, err := mapStatus(r.Status)
	if err != nil {
		return gateway.Ack{}, err
	}
	return gateway.Ack{RegistrationCode: r.ID, Status: st, Message: r.Message}, nil
}

// Status returns the processing state of a submitted invoice
func (c *XRechnungChannel) Status(ctx context.Context, registrationCode string) (model.Status, error) {
	var r receipt
	if err := c.client.DoJSON(ctx, http.MethodGet, "/invoices/"+url.PathEscape(registrationCode), nil, &r); err != nil {
		return "", err
	}
	return mapStatus(r.Status)
}

func mapStatus(s string) (model.Status, error) {
	switch strings.ToLower(s) {
	case "", "received", "processing":
		return model.StatusSent, nil
	case "delivered", "accepted":
		return model.StatusAccepted, nil
	case "rejected":
		return model.StatusRejected, nil
	}
	return "", model.NewTransportError(model.TransportBadResponse, XRechnungChannelName,
		fmt.Sprintf("unknown status %q", s), nil)
}

var _ gateway.Channel = (*XRechnungChannel)(nil)
