package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/einvoicing/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func baseParams() model.InvoiceParams {
	return model.InvoiceParams{
		Number:    "FA-2026-0001",
		IssueDate: time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
		Currency:  "EUR",
		Seller: model.Party{
			Name:  "Atelier Piano SARL",
			TaxID: "FR12345678901",
			Address: model.Address{
				Street: "12 rue de la Paix", City: "Paris", PostalCode: "75002", Country: "FR",
			},
		},
		Buyer: model.Party{
			Name:    "Conservatoire de Lyon",
			Address: model.Address{Street: "4 montée Cardinal Decourtray", City: "Lyon", PostalCode: "69005", Country: "FR"},
		},
		Lines: []model.LineParams{
			{Description: "Accordage", Quantity: d("1"), UnitPrice: d("100"), TaxRate: d("20")},
			{Description: "Déplacement", Quantity: d("1"), UnitPrice: d("50"), TaxRate: d("20")},
		},
	}
}

func TestNewLine_Calculate(t *testing.T) {
	line := model.NewLine("Tuning", d("3"), d("33.335"), d("5.5"))

	// 3 * 33.335 = 100.005 rounds half-up to 100.01
	assert.Equal(t, "100.01", line.LineTotal.StringFixed(2))
	// 100.01 * 5.5% = 5.50055 -> 5.50
	assert.Equal(t, "5.50", line.TaxAmount.StringFixed(2))
	assert.Equal(t, model.DefaultUnitCode, line.UnitCode)
	assert.Equal(t, model.TaxContextDomestic, line.TaxContext)
}

func TestNewEInvoice_ComputesTotals(t *testing.T) {
	inv, err := model.NewEInvoice(baseParams())
	require.NoError(t, err)

	assert.Equal(t, "150.00", inv.Subtotal().StringFixed(2))
	assert.Equal(t, "30.00", inv.TaxAmount().StringFixed(2))
	assert.Equal(t, "180.00", inv.Total().StringFixed(2))
	assert.True(t, inv.Subtotal().Add(inv.TaxAmount()).Equal(inv.Total()))
	assert.NotEmpty(t, inv.ID())
	assert.Equal(t, model.DocumentTypeInvoice, inv.DocumentType())
	assert.Equal(t, model.StatusDraft, inv.Status())
}

func TestNewEInvoice_AcceptsTotalsWithinEpsilon(t *testing.T) {
	p := baseParams()
	p.Subtotal = dp("150.00")
	p.TaxAmount = dp("30.01")
	p.Total = dp("180.01")

	inv, err := model.NewEInvoice(p)
	require.NoError(t, err)
	assert.Equal(t, "180.01", inv.Total().StringFixed(2))
}

func TestNewEInvoice_RejectsUnreconciledTotals(t *testing.T) {
	p := baseParams()
	p.Subtotal = dp("150.00")
	p.TaxAmount = dp("29.00")
	p.Total = dp("200.00")

	_, err := model.NewEInvoice(p)
	require.Error(t, err)

	var errs model.ValidationErrors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs, 2)
	assert.Equal(t, "taxAmount", errs[0].Field)
	assert.Equal(t, "total", errs[1].Field)
	assert.Equal(t, model.ErrCodeValidation, model.ErrorCode(err))
}

func TestNewEInvoice_RejectsInconsistentLine(t *testing.T) {
	p := baseParams()
	p.Lines[1].LineTotal = dp("55.00")
	p.Lines[1].TaxAmount = dp("11.00")

	_, err := model.NewEInvoice(p)

	var errs model.ValidationErrors
	require.True(t, errors.As(err, &errs))
	require.Len(t, errs, 2)
	assert.Equal(t, 1, errs[0].Line)
	assert.Equal(t, "lines[1].lineTotal", errs[0].Field)
	assert.Equal(t, 1, errs[1].Line)
}

func TestNewEInvoice_RejectsUnknownEnums(t *testing.T) {
	p := baseParams()
	p.DocumentType = "receipt"
	p.Lines[0].TaxContext = "duty_free"

	_, err := model.NewEInvoice(p)

	var errs model.ValidationErrors
	require.True(t, errors.As(err, &errs))
	assert.Len(t, errs, 2)
}

func TestEInvoice_IsImmutable(t *testing.T) {
	p := baseParams()
	p.CountryConfig.France = &model.FranceConfig{SIRET: "12345678901234"}
	inv, err := model.NewEInvoice(p)
	require.NoError(t, err)

	lines := inv.Lines()
	lines[0].Description = "changed"
	cfg := inv.CountryConfig()
	cfg.France.SIRET = "changed"
	p.CountryConfig.France.SIRET = "changed too"

	assert.Equal(t, "Accordage", inv.Lines()[0].Description)
	assert.Equal(t, "12345678901234", inv.CountryConfig().France.SIRET)
}

func TestNewCorrection(t *testing.T) {
	original, err := model.NewEInvoice(baseParams())
	require.NoError(t, err)

	_, err = model.NewCorrection(original, model.CorrectionParams{Number: "FA-2026-0002"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrIllegalTransition)

	require.NoError(t, original.Lifecycle().AdvanceTo(model.StatusRejected, "rejected by authority"))

	corrected, err := model.NewCorrection(original, model.CorrectionParams{
		Number:    "FA-2026-0002",
		IssueDate: time.Date(2026, 3, 20, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	assert.Equal(t, model.DocumentTypeCorrected, corrected.DocumentType())
	assert.NotEqual(t, original.ID(), corrected.ID())
	require.NotNil(t, corrected.Corrects())
	assert.Equal(t, original.ID(), corrected.Corrects().InvoiceID)
	assert.Equal(t, "FA-2026-0001", corrected.Corrects().InvoiceNumber)
	assert.Equal(t, model.StatusDraft, corrected.Status())

	// the rejected invoice is left as it was
	assert.Equal(t, model.StatusRejected, original.Status())
	assert.Equal(t, model.DocumentTypeInvoice, original.DocumentType())
	assert.True(t, corrected.Total().Equal(original.Total()))
}

func TestDocumentType_Codes(t *testing.T) {
	tests := []struct {
		typ  model.DocumentType
		code string
	}{
		{model.DocumentTypeInvoice, "380"},
		{model.DocumentTypeCreditNote, "381"},
		{model.DocumentTypeCorrected, "384"},
		{model.DocumentTypeProforma, "386"},
		{model.DocumentTypeSelfBilled, "389"},
	}
	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			assert.Equal(t, tt.code, tt.typ.UNTDIDCode())
		})
	}

	var dt model.DocumentType
	require.Error(t, dt.UnmarshalText([]byte("receipt")))
	require.NoError(t, dt.UnmarshalText([]byte("credit_note")))
	assert.Equal(t, model.DocumentTypeCreditNote, dt)
}

func TestProfile_GuidelineID(t *testing.T) {
	assert.Equal(t, "urn:cen.eu:en16931:2017", model.ProfileEN16931.GuidelineID())
	assert.Equal(t, "urn:factur-x.eu:1p0:minimum", model.ProfileMinimum.GuidelineID())
	assert.Equal(t, "urn:factur-x.eu:1p0:basicwl", model.ProfileBasicWL.GuidelineID())
	assert.False(t, model.ProfileMinimum.HasLines())
	assert.True(t, model.ProfileBasic.HasLines())

	var p model.Profile
	require.NoError(t, p.UnmarshalText([]byte("extended")))
	assert.Equal(t, model.ProfileExtended, p)
	require.Error(t, p.UnmarshalText([]byte("COMFORT")))
}

func TestParseCountry(t *testing.T) {
	c, err := model.ParseCountry(" fr ")
	require.NoError(t, err)
	assert.Equal(t, model.CountryFrance, c)

	_, err = model.ParseCountry("XX")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnsupportedJurisdiction)
	assert.Equal(t, model.ErrCodeUnsupportedJurisdiction, model.ErrorCode(err))
}
