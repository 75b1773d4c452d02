package germany_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/gateway"
	"github.com/rezonia/einvoicing/internal/jurisdiction/germany"
	"github.com/rezonia/einvoicing/internal/logger"
	"github.com/rezonia/einvoicing/internal/model"
)

func params() model.InvoiceParams {
	return model.InvoiceParams{
		ID:        "de-1",
		Number:    "RE-2026-100",
		IssueDate: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		Currency:  "EUR",
		Seller: model.Party{
			Name: "Klavierbau GmbH", TaxID: "DE123456789",
			Address: model.Address{Street: "Hauptstraße 1", City: "Berlin", PostalCode: "10115", Country: "DE"},
		},
		Buyer: model.Party{
			Name:    "Stadt Köln",
			Address: model.Address{City: "Köln", PostalCode: "50667", Country: "DE"},
		},
		Lines: []model.LineParams{
			{Description: "Stimmung", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(80), TaxRate: decimal.NewFromInt(19)},
			{Description: "Noten", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(20), TaxRate: decimal.NewFromInt(7)},
		},
		BankAccount: "DE89370400440532013000",
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

func newStrategy(t *testing.T, opts ...germany.Option) *germany.Strategy {
	t.Helper()
	s, err := germany.New(gateway.New(gateway.Config{}), append([]germany.Option{germany.WithLogger(logger.Nop())}, opts...)...)
	require.NoError(t, err)
	return s
}

func withLeitweg(id string) func(p *model.InvoiceParams) {
	return func(p *model.InvoiceParams) {
		p.CountryConfig.Germany = &model.GermanyConfig{LeitwegID: id}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.InvoiceParams)
		rule   string
	}{
		{name: "valid B2B"},
		{name: "valid B2G", mutate: withLeitweg("991-12345-67")},
		{name: "short Leitweg-ID", mutate: withLeitweg("991-1"), rule: "leitweg_id_format"},
		{name: "Leitweg-ID with letters", mutate: withLeitweg("991-ABCDE-12"), rule: "leitweg_id_format"},
		{name: "four digit PLZ", mutate: func(p *model.InvoiceParams) { p.Seller.Address.PostalCode = "1011" }, rule: "postal_code_format"},
		{name: "malformed USt-IdNr", mutate: func(p *model.InvoiceParams) { p.Seller.TaxID = "DE12345" }, rule: "fiscal_id_format"},
		{name: "missing street", mutate: func(p *model.InvoiceParams) { p.Seller.Address.Street = "" }, rule: "required"},
		{
			name: "reduced rate of another country",
			mutate: func(p *model.InvoiceParams) {
				p.Lines[1].TaxRate = decimal.NewFromInt(16)
			},
			rule: "tax_rate_not_allowed",
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

func TestGenerateDocument_XRechnung(t *testing.T) {
	s := newStrategy(t)
	inv := build(t, withLeitweg("991-12345-67"))

	doc, err := s.GenerateDocument(inv)
	require.NoError(t, err)
	assert.Equal(t, model.ProfileXRechnung, doc.Profile)
	assert.Equal(t, "xrechnung.xml", doc.FileName)

	x := etree.NewDocument()
	require.NoError(t, x.ReadFromBytes(doc.XML))
	assert.Equal(t, model.ProfileXRechnung.GuidelineID(),
		x.FindElement("//ram:GuidelineSpecifiedDocumentContextParameter/ram:ID").Text())
	assert.Equal(t, "991-12345-67", x.FindElement("//ram:BuyerReference").Text())
	assert.Equal(t, "58", x.FindElement("//ram:SpecifiedTradeSettlementPaymentMeans/ram:TypeCode").Text())

	rates := x.FindElements("//ram:ApplicableHeaderTradeSettlement/ram:ApplicableTradeTax/ram:RateApplicablePercent")
	require.Len(t, rates, 2)
	assert.Equal(t, "7.00", rates[0].Text())
	assert.Equal(t, "19.00", rates[1].Text())
}

func TestGenerateDocument_B2BProfile(t *testing.T) {
	s := newStrategy(t, germany.WithProfile(model.ProfileBasic))
	doc, err := s.GenerateDocument(build(t, nil))
	require.NoError(t, err)
	assert.Equal(t, model.ProfileBasic, doc.Profile)

	override := build(t, func(p *model.InvoiceParams) {
		p.CountryConfig.Germany = &model.GermanyConfig{Profile: model.ProfileExtended, BuyerReference: "PO-7"}
	})
	doc, err = s.GenerateDocument(override)
	require.NoError(t, err)
	assert.Equal(t, model.ProfileExtended, doc.Profile)
	assert.Contains(t, string(doc.XML), "PO-7")
}

func TestSend_XRechnung(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/invoices":
			assert.Equal(t, "991-12345-67", r.URL.Query().Get("leitwegId"))
			assert.Equal(t, "application/xml", r.Header.Get("Content-Type"))
			received, _ = io.ReadAll(r.Body)
			fmt.Fprint(w, `{"id":"XR-2026-0001","status":"received"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/invoices/XR-2026-0001":
			fmt.Fprint(w, `{"id":"XR-2026-0001","status":"rejected","message":"Leitweg-ID unbekannt"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	s := newStrategy(t, germany.WithXRechnung(germany.NewXRechnungChannel(germany.XRechnungConfig{BaseURL: srv.URL})))
	inv := build(t, withLeitweg("991-12345-67"))

	res := s.Send(context.Background(), inv)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, "XR-2026-0001", res.RegistrationCode)
	assert.Equal(t, model.StatusSent, res.Status)
	assert.Contains(t, string(received), "CrossIndustryInvoice")

	st, err := s.GetStatus(context.Background(), inv.ID())
	require.NoError(t, err)
	assert.Equal(t, model.StatusRejected, st)
	assert.Equal(t, model.StatusRejected, inv.Status())
}

func TestSend_B2BDirect(t *testing.T) {
	s := newStrategy(t)
	inv := build(t, nil)

	res := s.Send(context.Background(), inv)
	require.True(t, res.Success, res.ErrorMessage)
	assert.Contains(t, res.RegistrationCode, "DE-B2B-")
	assert.Equal(t, model.StatusAccepted, inv.Status())
}

func TestValidLeitwegID(t *testing.T) {
	assert.True(t, germany.ValidLeitwegID("04011000-1234512345-06"))
	assert.False(t, germany.ValidLeitwegID("123"))
	assert.False(t, germany.ValidLeitwegID("04011000 12345"))
}
