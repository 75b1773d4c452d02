package spain

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/transport"
)

// AEAT SII endpoints
const (
	AEATTestURL       = "https://prewww1.aeat.es/wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP"
	AEATProductionURL = "https://www1.agenciatributaria.gob.es/wlpl/SSII-FACT/ws/fe/SiiFactFEV1SOAP"
)

// AEATChannelName identifies the AEAT in ledger records and metrics
const AEATChannelName = "aeat-sii"

// Submission states reported in EstadoEnvio / EstadoRegistro
const (
	stateCorrect            = "Correcto"
	stateAcceptedWithErrors = "AceptadoConErrores"
	stateIncorrect          = "Incorrecto"
)

// AEATConfig configures the SII channel
type AEATConfig struct {
	// Env selects the endpoint: "production" or "test" (default)
	Env string
	// URL overrides the endpoint selected by Env
	URL        string
	Timeout    time.Duration
	HTTPClient transport.HTTPDoer
	Logger     *zerolog.Logger
}

// AEATChannel registers issued invoices with the SII web service. The
// service answers synchronously, so statuses come from the answers seen.
type AEATChannel struct {
	client *transport.HTTPClient

	mu       sync.RWMutex
	statuses map[string]model.Status
}

// NewAEATChannel creates the channel
func NewAEATChannel(cfg AEATConfig) *AEATChannel {
	url := cfg.URL
	if url == "" {
		url = AEATTestURL
		if cfg.Env == "production" {
			url = AEATProductionURL
		}
	}
	return &AEATChannel{
		client: transport.NewHTTPClient(transport.HTTPConfig{
			Channel:    AEATChannelName,
			BaseURL:    url,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
		statuses: make(map[string]model.Status),
	}
}

// Name returns the channel name
func (c *AEATChannel) Name() string {
	return AEATChannelName
}

// URL returns the endpoint in use
func (c *AEATChannel) URL() string {
	return c.client.BaseURL()
}

// Submit posts the SOAP envelope and interprets the registration answer
func (c *AEATChannel) Submit(ctx context.Context, sub gateway.Submission) (gateway.Ack, error) {
	payload := sub.Document.XML
	if len(payload) == 0 {
		payload = sub.Document.Content
	}
	body, err := c.client.Do(ctx, http.MethodPost, "", "text/xml; charset=utf-8", payload)
	if err != nil {
		return gateway.Ack{}, err
	}

	ack, err := ParseResponse(body)
	if err != nil {
		return gateway.Ack{}, err
	}

	c.mu.Lock()
	c.statuses[ack.RegistrationCode] = ack.Status
	c.mu.Unlock()
	return ack, nil
}

// Status returns the answer recorded for a CSV
func (c *AEATChannel) Status(_ context.Context, registrationCode string) (model.Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.statuses[registrationCode]
	if !ok {
		return "", model.ErrNotFound
	}
	return st, nil
}

// ParseResponse reads a SII answer. Correcto and AceptadoConErrores register
// the invoice; Incorrecto is a business rejection.
func ParseResponse(body []byte) (gateway.Ack, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return gateway.Ack{}, model.NewTransportError(model.TransportBadResponse, AEATChannelName,
			"response is not XML", err)
	}

	if fault := doc.FindElement("//Fault"); fault != nil {
		return gateway.Ack{}, model.NewTransportError(model.TransportUnavailable, AEATChannelName,
			"SOAP fault: "+elementText(fault, "faultstring"), nil)
	}

	state := elementText(doc.Root(), "EstadoRegistro")
	if state == "" {
		state = elementText(doc.Root(), "EstadoEnvio")
	}
	code := elementText(doc.Root(), "CodigoErrorRegistro")
	desc := elementText(doc.Root(), "DescripcionErrorRegistro")

	switch state {
	case stateCorrect, stateAcceptedWithErrors:
		csv := elementText(doc.Root(), "CSV")
		if csv == "" {
			return gateway.Ack{}, model.NewTransportError(model.TransportBadResponse, AEATChannelName,
				"accepted answer carries no CSV", nil)
		}
		ack := gateway.Ack{RegistrationCode: csv, Status: model.StatusAccepted}
		if state == stateAcceptedWithErrors {
			ack.Message = strings.TrimSpace("accepted with errors " + code + " " + desc)
		}
		return ack, nil
	case stateIncorrect:
		return gateway.Ack{}, model.NewBusinessRejection(AEATChannelName, code, desc)
	}
	return gateway.Ack{}, model.NewTransportError(model.TransportBadResponse, AEATChannelName,
		"unknown submission state "+state, nil)
}

func elementText(root *etree.Element, tag string) string {
	if root == nil {
		return ""
	}
	if el := root.FindElement(".//" + tag); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}

var _ gateway.Channel = (*AEATChannel)(nil)
