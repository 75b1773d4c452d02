package france

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/model"
	"github.com/rezonia/einvoicing/internal/transport"
)

// Chorus Pro endpoints
const (
	ChorusProductionURL = "https://chorus-pro.gouv.fr/api/v1"
	ChorusSandboxURL    = "https://sandbox-api.chorus-pro.gouv.fr/api/v1"
)

// ChorusChannelName identifies Chorus Pro in ledger records and metrics
const ChorusChannelName = "chorus-pro"

// ChorusConfig configures the Chorus Pro channel
type ChorusConfig struct {
	// Env selects the endpoint: "production" or "sandbox" (default)
	Env string
	// BaseURL overrides the endpoint selected by Env
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient transport.HTTPDoer
	Logger     *zerolog.Logger
}

// ChorusChannel submits B2G invoices to Chorus Pro
type ChorusChannel struct {
	client *transport.HTTPClient
}

// NewChorusChannel creates a Chorus Pro channel
func NewChorusChannel(cfg ChorusConfig) *ChorusChannel {
	base := cfg.BaseURL
	if base == "" {
		base = ChorusSandboxURL
		if cfg.Env == "production" {
			base = ChorusProductionURL
		}
	}
	return &ChorusChannel{
		client: transport.NewHTTPClient(transport.HTTPConfig{
			Channel:    ChorusChannelName,
			BaseURL:    base,
			Token:      cfg.Token,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		}),
	}
}

// Name returns the channel name
func (c *ChorusChannel) Name() string {
	return ChorusChannelName
}

// BaseURL returns the endpoint in use
func (c *ChorusChannel) BaseURL() string {
	return c.client.BaseURL()
}

type submitRequest struct {
	SIRET            string `json:"siret"`
	CodeService      string `json:"codeService"`
	NumeroEngagement string `json:"numeroEngagement,omitempty"`
	NumeroFacture    string `json:"numeroFacture"`
	NomFichier       string `json:"nomFichier"`
	SyntaxeFlux      string `json:"syntaxeFlux"`
	FichierFlux      string `json:"fichierFlux"`
	Empreinte        string `json:"empreinte"`
}

type submitResponse struct {
	NumeroFlux string `json:"numeroFlux"`
	CodeRetour string `json:"codeRetour"`
	Libelle    string `json:"libelle"`
}

type statusResponse struct {
	Statut     string `json:"statut"`
	MotifRejet string `json:"motifRejet"`
}

// Submit deposits the document and returns the flow number as registration code
func (c *ChorusChannel) Submit(ctx context.Context, sub gateway.Submission) (gateway.Ack, error) {
	cfg := sub.Invoice.CountryConfig().France
	if cfg == nil {
		return gateway.Ack{}, model.NewTransportError(model.TransportMisconfigured, ChorusChannelName,
			"invoice has no Chorus Pro configuration", nil)
	}

	syntax := "IN_DP_E1_CII_16B"
	if sub.Document.Format == model.FormatPDF {
		syntax = "IN_DP_E2_CII_FACTURX"
	}
	req := submitRequest{
		SIRET:            cfg.SIRET,
		CodeService:      cfg.ServiceCode,
		NumeroEngagement: cfg.EngagementNumber,
		NumeroFacture:    sub.Invoice.Number(),
		NomFichier:       sub.Document.FileName,
		SyntaxeFlux:      syntax,
		FichierFlux:      base64.StdEncoding.EncodeToString(sub.Document.Content),
		Empreinte:        sub.Hash,
	}

	var resp submitResponse
	if err := c.client.DoJSON(ctx, http.MethodPost, "/factures/soumettre", req, &resp); err != nil {
		return gateway.Ack{}, err
	}
	if resp.NumeroFlux == "" {
		return gateway.Ack{}, model.NewTransportError(model.TransportBadResponse, ChorusChannelName,
			"response carries no flow number", nil)
	}

	return gateway.Ack{
		RegistrationCode: resp.NumeroFlux,
		Status:           model.StatusSent,
		Message:          resp.Libelle,
	}, nil
}

// Status maps the Chorus Pro processing state of a flow
func (c *ChorusChannel) Status(ctx context.Context, registrationCode string) (model.Status, error) {
	var resp statusResponse
	path := fmt.Sprintf("/factures/%s/statut", url.PathEscape(registrationCode))
	if err := c.client.DoJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", err
	}

	switch resp.Statut {
	case "EN_COURS":
		return model.StatusSent, nil
	case "VALIDEE", "MISE_EN_PAIEMENT", "PAYEE":
		return model.StatusAccepted, nil
	case "REJETEE":
		return model.StatusRejected, nil
	}
	return "", model.NewTransportError(model.TransportBadResponse, ChorusChannelName,
		fmt.Sprintf("unknown statut %q", resp.Statut), nil)
}

var _ gateway.Channel = (*ChorusChannel)(nil)
