package spain_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction/spain"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

var today = time.Date(2026, 6, 15, 10, 0, 0, 0, time.UTC)

func params() model.InvoiceParams {
	return model.InvoiceParams{
		ID:        "es-1",
		Number:    "2026/A/0042",
		IssueDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "EUR",
		Seller: model.Party{
			Name: "Pianos Rezonia SL", TaxID: "B12345674",
			Address: model.Address{Street: "Calle Mayor 1", City: "Madrid", PostalCode: "28013", Country: "ES"},
		},
		Buyer: model.Party{
			Name: "Conservatorio de Sevilla", TaxID: "12345678Z", Email: "admin@conservatorio.es",
			Address: model.Address{City: "Sevilla", PostalCode: "41001", Country: "ES"},
		},
		Lines: []model.LineParams{
			{Description: "Afinación", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(60), TaxRate: decimal.NewFromInt(21)},
			{Description: "Partituras", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(30), TaxRate: decimal.NewFromInt(4)},
		},
	}
}

func build(t *testing.T, mutate func(p *model.InvoiceParams)) *model.EInvoice {
	t.Helper()
	p := params()
	if mutate != nil {
		mutate(&p)
	}
	inv, err := model.NewEInvoice(p)
	require.NoError(t, err)
	return inv
}

func newGateway() *gateway.Gateway {
	return gateway.New(gateway.Config{
		Backoff: gateway.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, MaxRetries: 3, Multiplier: 2},
	})
}

func newStrategy(t *testing.T, opts ...spain.Option) *spain.Strategy {
	t.Helper()
	base := []spain.Option{
		spain.WithLogger(logger.Nop()),
		spain.WithClock(func() time.Time { return today }),
	}
	s, err := spain.New(newGateway(), append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func rectification(typ string) func(p *model.InvoiceParams) {
	return func(p *model.InvoiceParams) {
		p.DocumentType = model.DocumentTypeCorrected
		p.CountryConfig.Spain = &model.SpainConfig{InvoiceType: typ}
		p.Corrects = &model.DocumentReference{
			InvoiceID: "es-0", InvoiceNumber: "2026/A/0041", IssueDate: time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC),
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.InvoiceParams)
		rule   string
	}{
		{name: "valid"},
		{name: "valid rectification", mutate: rectification("R1")},
		{name: "NIE buyer", mutate: func(p *model.InvoiceParams) { p.Buyer.TaxID = "X1234567L" }},
		{name: "wrong NIF letter", mutate: func(p *model.InvoiceParams) { p.Buyer.TaxID = "12345678A" }, rule: "nif_format"},
		{name: "wrong CIF digit", mutate: func(p *model.InvoiceParams) { p.Seller.TaxID = "B12345675" }, rule: "nif_format"},
		{name: "malformed NIF", mutate: func(p *model.InvoiceParams) { p.Seller.TaxID = "ES-12" }, rule: "fiscal_id_format"},
		{
			name:   "long number",
			mutate: func(p *model.InvoiceParams) { p.Number = strings.Repeat("9", 61) },
			rule:   "invoice_number_length",
		},
		{
			name:   "future issue date",
			mutate: func(p *model.InvoiceParams) { p.IssueDate = today.AddDate(0, 0, 2) },
			rule:   "issue_date_future",
		},
		{
			name: "zero total",
			mutate: func(p *model.InvoiceParams) {
				p.Lines = []model.LineParams{{Description: "Cortesía", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.Zero, TaxRate: decimal.NewFromInt(21)}}
			},
			rule: "total_not_positive",
		},
		{
			name:   "unknown invoice type",
			mutate: func(p *model.InvoiceParams) { p.CountryConfig.Spain = &model.SpainConfig{InvoiceType: "F9"} },
			rule:   "invoice_type",
		},
		{
			name:   "rectification without reference",
			mutate: func(p *model.InvoiceParams) { p.CountryConfig.Spain = &model.SpainConfig{InvoiceType: "R4"} },
			rule:   "rectification_reference",
		},
		{
			name:   "missing buyer NIF",
			mutate: func(p *model.InvoiceParams) { p.Buyer.TaxID = "" },
			rule:   "required",
		},
		{
			name:   "rate from another country",
			mutate: func(p *model.InvoiceParams) { p.Lines[0].TaxRate = decimal.NewFromInt(20) },
			rule:   "tax_rate_not_allowed",
		},
	}

	s := newStrategy(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := s.Validate(build(t, tt.mutate))
			if tt.rule == "" {
				assert.True(t, res.Valid, res.Messages)
				return
			}
			assert.False(t, res.Valid)
			assert.True(t, res.HasRule(tt.rule), res.Messages)
		})
	}
}

func TestValidate_MalformedNIFReportedOnce(t *testing.T) {
	s := newStrategy(t)
	res := s.Validate(build(t, func(p *model.InvoiceParams) { p.Seller.TaxID = "ES-12" }))
	require.False(t, res.Valid)
	assert.Len(t, res.Errors, 1)
	assert.False(t, res.HasRule("nif_format"))
}

func TestValidate_MissingEmailWarns(t *testing.T) {
	s := newStrategy(t)
	res := s.Validate(build(t, func(p *model.InvoiceParams) { p.Buyer.Email = "" }))
	assert.True(t, res.Valid)
	assert.NotEmpty(t, res.Warnings)
}

func TestValidNIF(t *testing.T) {
	tests := []struct {
		id   string
		kind spain.IdentifierKind
		ok   bool
	}{
		{id: "12345678Z", kind: spain.KindNIF, ok: true},
		{id: "ES12345678Z", kind: spain.KindNIF, ok: true},
		{id: "12345678A", kind: spain.KindNIF},
		{id: "X1234567L", kind: spain.KindNIE, ok: true},
		{id: "Y1234567A", kind: spain.KindNIE},
		{id: "B12345674", kind: spain.KindCIF, ok: true},
		{id: "B1234567D", kind: spain.KindCIF},
		{id: "Q1234567D", kind: spain.KindCIF, ok: true},
		{id: "123"},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			kind, ok := spain.Classify(tt.id)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.ok, spain.ValidNIF(tt.id))
		})
	}
}

func TestGenerateDocument(t *testing.T) {
	s := newStrategy(t)
	doc, err := s.GenerateDocument(build(t, nil))
	require.NoError(t, err)
	assert.Equal(t, spain.SIIName, doc.FileName)
	assert.Equal(t, model.FormatXML, doc.Format)

	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(doc.XML))
	assert.Equal(t, "B12345674", x.FindElement("//sii:Titular/sii:NIF").Text())
	assert.Equal(t, "2026", x.FindElement("//sii:PeriodoLiquidacion/sii:Ejercicio").Text())
	assert.Equal(t, "06", x.FindElement("//sii:PeriodoLiquidacion/sii:Periodo").Text())
	assert.Equal(t, "01-06-2026", x.FindElement("//siiLR:IDFactura/sii:FechaExpedicionFacturaEmisor").Text())
	assert.Equal(t, "F1", x.FindElement("//sii:TipoFactura").Text())
	assert.Equal(t, "01", x.FindElement("//sii:ClaveRegimenEspecialOTrascendencia").Text())
	assert.Equal(t, "176.40", x.FindElement("//sii:ImporteTotal").Text())
	assert.Equal(t, "12345678Z", x.FindElement("//sii:Contraparte/sii:NIF").Text())
	assert.Equal(t, "S1", x.FindElement("//sii:TipoNoExenta").Text())

	details := x.FindElements("//sii:DesgloseIVA/sii:DetalleIVA")
	require.Len(t, details, 2)
	assert.Equal(t, "4.00", details[0].FindElement("sii:TipoImpositivo").Text())
	assert.Equal(t, "1.20", details[0].FindElement("sii:CuotaRepercutida").Text())
	assert.Equal(t, "21.00", details[1].FindElement("sii:TipoImpositivo").Text())
	assert.Equal(t, "120.00", details[1].FindElement("sii:BaseImponible").Text())
	assert.Equal(t, "25.20", details[1].FindElement("sii:CuotaRepercutida").Text())

	again, err := s.GenerateDocument(build(t, nil))
	require.NoError(t, err)
	assert.Equal(t, doc.Hash(), again.Hash())
}

func TestGenerateDocument_Rectification(t *testing.T) {
	s := newStrategy(t)
	doc, err := s.GenerateDocument(build(t, rectification("R1")))
	require.NoError(t, err)

	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(doc.XML))
	assert.Equal(t, "R1", x.FindElement("//sii:TipoFactura").Text())
	assert.Equal(t, "I", x.FindElement("//sii:TipoRectificativa").Text())
	ref := x.FindElement("//sii:FacturasRectificadas/sii:IDFacturaRectificada")
	require.NotNil(t, ref)
	assert.Equal(t, "2026/A/0041", ref.FindElement("sii:NumSerieFacturaEmisor").Text())
	assert.Equal(t, "20-05-2026", ref.FindElement("sii:FechaExpedicionFacturaEmisor").Text())
}

func TestGenerateDocument_ForeignBuyerAndExemptions(t *testing.T) {
	s := newStrategy(t)
	inv := build(t, func(p *model.InvoiceParams) {
		p.Buyer = model.Party{
			Name: "Salle Pleyel", TaxID: "FR12345678901",
			Address: model.Address{City: "Paris", PostalCode: "75008", Country: "FR"},
		}
		p.Lines = []model.LineParams{
			{Description: "Restauración", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(500), TaxRate: decimal.Zero, TaxContext: model.TaxContextIntraCommunity},
			{Description: "Transporte", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(100), TaxRate: decimal.Zero, TaxContext: model.TaxContextOutOfScope},
		}
		p.CountryConfig.Spain = &model.SpainConfig{SpecialRegime: "02", OperationDescription: "Restauración de piano"}
	})

	doc, err := s.GenerateDocument(inv)
	require.NoError(t, err)

	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(doc.XML))
	assert.Nil(t, x.FindElement("//sii:Contraparte/sii:NIF"))
	assert.Equal(t, "FR", x.FindElement("//sii:IDOtro/sii:CodigoPais").Text())
	assert.Equal(t, "02", x.FindElement("//sii:ClaveRegimenEspecialOTrascendencia").Text())
	assert.Equal(t, "Restauración de piano", x.FindElement("//sii:DescripcionOperacion").Text())
	assert.Equal(t, "E5", x.FindElement("//sii:Exenta/sii:DetalleExenta/sii:CausaExencion").Text())
	assert.Equal(t, "100.00", x.FindElement("//sii:NoSujeta/sii:ImportePorArticulos7_14_Otros").Text())
	assert.Nil(t, x.FindElement("//sii:NoExenta"))
}

type stampSigner struct{}

func (stampSigner) Sign(xml []byte) ([]byte, error) {
	return append(xml, []byte("<!-- signed -->")...), nil
}

type failingSigner struct{}

func (failingSigner) Sign([]byte) ([]byte, error) {
	return nil, fmt.Errorf("certificate expired")
}

func TestGenerateDocument_Signed(t *testing.T) {
	doc, err := newStrategy(t, spain.WithSigner(stampSigner{})).GenerateDocument(build(t, nil))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(doc.XML), "<!-- signed -->"))

	_, err = newStrategy(t, spain.WithSigner(failingSigner{})).GenerateDocument(build(t, nil))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "certificate expired")
}

const accepted = `<?xml version="1.0" encoding="UTF-8"?>
<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/">
  <env:Body>
    <siiR:RespuestaLRFEmitidas xmlns:siiR="https://www2.agenciatributaria.gob.es/static_files/common/internet/dep/aplicaciones/es/aeat/ssii/fact/ws/RespuestaSuministro.xsd">
      <siiR:CSV>%s</siiR:CSV>
      <siiR:EstadoEnvio>%s</siiR:EstadoEnvio>
      <siiR:RespuestaLinea>
        <siiR:EstadoRegistro>%s</siiR:EstadoRegistro>
        <siiR:CodigoErrorRegistro>%s</siiR:CodigoErrorRegistro>
        <siiR:DescripcionErrorRegistro>%s</siiR:DescripcionErrorRegistro>
      </siiR:RespuestaLinea>
    </siiR:RespuestaLRFEmitidas>
  </env:Body>
</env:Envelope>`

func TestParseResponse(t *testing.T) {
	ack, err := spain.ParseResponse([]byte(fmt.Sprintf(accepted, "CSV-1", "Correcto", "Correcto", "", "")))
	require.NoError(t, err)
	assert.Equal(t, "CSV-1", ack.RegistrationCode)
	assert.Equal(t, model.StatusAccepted, ack.Status)
	assert.Empty(t, ack.Message)

	ack, err = spain.ParseResponse([]byte(fmt.Sprintf(accepted, "CSV-2", "ParcialmenteCorrecto", "AceptadoConErrores", "2011", "NIF no censado")))
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, ack.Status)
	assert.Contains(t, ack.Message, "2011")

	_, err = spain.ParseResponse([]byte(fmt.Sprintf(accepted, "", "Incorrecto", "Incorrecto", "1100", "Valor o tipo incorrecto")))
	var rejection *model.BusinessRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, "1100", rejection.Code)

	_, err = spain.ParseResponse([]byte(`<env:Envelope xmlns:env="http://schemas.xmlsoap.org/soap/envelope/"><env:Body><env:Fault><faultstring>Codigo[4102]</faultstring></env:Fault></env:Body></env:Envelope>`))
	assert.True(t, model.IsRetryable(err))

	_, err = spain.ParseResponse([]byte("not xml"))
	var te *model.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, model.TransportBadResponse, te.Category)
}

func TestSend_Accepted(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "text/xml")
		body, _ := io.ReadAll(r.Body)
		assert.Contains(t, string(body), "SuministroLRFacturasEmitidas")
		fmt.Fprintf(w, accepted, "A1B2C3D4E5F6", "Correcto", "Correcto", "", "")
	}))
	defer srv.Close()

	s := newStrategy(t, spain.WithChannel(spain.NewAEATChannel(spain.AEATConfig{URL: srv.URL})))
	inv := build(t, nil)

	res := s.Send(context.Background(), inv)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "A1B2C3D4E5F6", res.RegistrationCode)
	assert.Equal(t, model.StatusAccepted, inv.Status())
	assert.EqualValues(t, 2, calls.Load())

	st, err := s.GetStatus(context.Background(), inv.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusAccepted, st)

	again := s.Send(context.Background(), inv)
	assert.Equal(t, model.ErrCodeAlreadySent, again.ErrorCode)
	assert.Equal(t, "A1B2C3D4E5F6", again.RegistrationCode)
	assert.EqualValues(t, 2, calls.Load())
}

func TestSend_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintf(w, accepted, "", "Incorrecto", "Incorrecto", "1117", "Factura duplicada")
	}))
	defer srv.Close()

	s := newStrategy(t, spain.WithChannel(spain.NewAEATChannel(spain.AEATConfig{URL: srv.URL})))
	inv := build(t, nil)

	res := s.Send(context.Background(), inv)
	assert.False(t, res.Success)
	assert.Equal(t, model.ErrCodeBusinessRejection, res.ErrorCode)
	assert.Contains(t, res.ErrorMessage, "Factura duplicada")
	assert.Equal(t, model.StatusRejected, inv.Status())
}

func TestSend_ValidationFailureNeverSubmits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Error("channel must not be called")
	}))
	defer srv.Close()

	s := newStrategy(t, spain.WithChannel(spain.NewAEATChannel(spain.AEATConfig{URL: srv.URL})))
	inv := build(t, func(p *model.InvoiceParams) { p.Buyer.TaxID = "12345678A" })

	res := s.Send(context.Background(), inv)
	assert.Equal(t, model.ErrCodeValidation, res.ErrorCode)
	assert.Equal(t, model.StatusDraft, inv.Status())
}

func TestAEATChannel_Endpoints(t *testing.T) {
	assert.Equal(t, spain.AEATTestURL, spain.NewAEATChannel(spain.AEATConfig{}).URL())
	assert.Equal(t, spain.AEATProductionURL, spain.NewAEATChannel(spain.AEATConfig{Env: "production"}).URL())

	_, err := spain.NewAEATChannel(spain.AEATConfig{}).Status(context.Background(), "unknown")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
