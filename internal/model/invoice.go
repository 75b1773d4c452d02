package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/einvoicing/internal/decimal"
)

// DefaultUnitCode is UN/ECE Recommendation 20 "one" (unit)
const DefaultUnitCode = "C62"

// Address is a postal address
type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Party represents seller or buyer
type Party struct {
	Name    string  `json:"name"`
	TaxID   string  `json:"taxId,omitempty"`
	Address Address `json:"address"`
	Email   string  `json:"email,omitempty"`
}

// InvoiceLine is one billed item. LineTotal and TaxAmount are always derived
// from Quantity, UnitPrice and TaxRate with per-line rounding.
type InvoiceLine struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	TaxRate     decimal.Decimal `json:"taxRate"`
	TaxContext  TaxContext      `json:"taxContext"`
	UnitCode    string          `json:"unitCode"`
	LineTotal   decimal.Decimal `json:"lineTotal"`
	TaxAmount   decimal.Decimal `json:"taxAmount"`
}

// LineParams describes a line before amounts are computed
type LineParams struct {
	Description string           `json:"description"`
	Quantity    decimal.Decimal  `json:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unitPrice"`
	TaxRate     decimal.Decimal  `json:"taxRate"`
	TaxContext  TaxContext       `json:"taxContext,omitempty"`
	UnitCode    string           `json:"unitCode,omitempty"`
	LineTotal   *decimal.Decimal `json:"lineTotal,omitempty"`
	TaxAmount   *decimal.Decimal `json:"taxAmount,omitempty"`
}

// NewLine computes a line from quantity, unit price and rate
func NewLine(description string, quantity, unitPrice, taxRate decimal.Decimal) InvoiceLine {
	lineTotal := money.LineTotal(quantity, unitPrice)
	return InvoiceLine{
		Description: description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
		TaxRate:     taxRate,
		TaxContext:  TaxContextDomestic,
		UnitCode:    DefaultUnitCode,
		LineTotal:   lineTotal,
		TaxAmount:   money.LineTax(lineTotal, taxRate),
	}
}

// Totals are the document-level amounts
type Totals struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Total     decimal.Decimal `json:"total"`
}

// ComputeTotals sums the already rounded line amounts
func ComputeTotals(lines []InvoiceLine) Totals {
	subtotal := money.Zero
	tax := money.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.LineTotal)
		tax = tax.Add(l.TaxAmount)
	}
	return Totals{
		Subtotal:  subtotal,
		TaxAmount: tax,
		Total:     subtotal.Add(tax),
	}
}

// FranceConfig holds Factur-X and Chorus Pro fields
type FranceConfig struct {
	SIRET            string  `json:"siret,omitempty"`
	ServiceCode      string  `json:"serviceCode,omitempty"`
	EngagementNumber string  `json:"engagementNumber,omitempty"`
	ChorusProEnabled bool    `json:"chorusProEnabled,omitempty"`
	BuyerIsPublic    bool    `json:"buyerIsPublic,omitempty"`
	Profile          Profile `json:"profile,omitempty"`
}

// B2G reports whether the invoice goes to a public buyer through Chorus Pro
func (c *FranceConfig) B2G() bool {
	return c != nil && c.ChorusProEnabled && c.BuyerIsPublic
}

// GermanyConfig holds ZUGFeRD and XRechnung fields
type GermanyConfig struct {
	LeitwegID      string  `json:"leitwegId,omitempty"`
	BuyerReference string  `json:"buyerReference,omitempty"`
	Profile        Profile `json:"profile,omitempty"`
}

// B2G reports whether a Leitweg-ID routes the invoice to a public buyer
func (c *GermanyConfig) B2G() bool {
	return c != nil && c.LeitwegID != ""
}

// SpainConfig holds Verifactu / SII fields
type SpainConfig struct {
	InvoiceType          string `json:"invoiceType,omitempty"`   // F1, F2, F3, R1..R5
	SpecialRegime        string `json:"specialRegime,omitempty"` // ClaveRegimenEspecialOTrascendencia
	OperationDescription string `json:"operationDescription,omitempty"`
	CertificateRef       string `json:"certificateRef,omitempty"`
}

// CountryConfig is the per-jurisdiction extension bag
type CountryConfig struct {
	France  *FranceConfig  `json:"france,omitempty"`
	Germany *GermanyConfig `json:"germany,omitempty"`
	Spain   *SpainConfig   `json:"spain,omitempty"`
}

// DocumentReference points a corrected invoice at the one it replaces
type DocumentReference struct {
	InvoiceID     string    `json:"invoiceId"`
	InvoiceNumber string    `json:"invoiceNumber"`
	IssueDate     time.Time `json:"issueDate"`
}

// InvoiceParams is everything a caller supplies to build an EInvoice.
// Nil totals are computed from the lines.
type InvoiceParams struct {
	ID            string
	Number        string
	IssueDate     time.Time
	DueDate       time.Time
	Currency      string
	Seller        Party
	Buyer         Party
	Lines         []LineParams
	Subtotal      *decimal.Decimal
	TaxAmount     *decimal.Decimal
	Total         *decimal.Decimal
	DocumentType  DocumentType
	CountryConfig CountryConfig
	Notes         string
	PaymentTerms  string
	PaymentMethod string
	BankAccount   string
	Corrects      *DocumentReference
	TenantID      string
}

// EInvoice is an immutable, internally consistent invoice. Only its status
// changes, through Lifecycle.
type EInvoice struct {
	id            string
	number        string
	issueDate     time.Time
	dueDate       time.Time
	currency      string
	seller        Party
	buyer         Party
	lines         []InvoiceLine
	totals        Totals
	documentType  DocumentType
	countryConfig CountryConfig
	notes         string
	paymentTerms  string
	paymentMethod string
	bankAccount   string
	corrects      *DocumentReference
	tenantID      string
	lifecycle     *Lifecycle
}

// NewEInvoice builds an invoice, failing when lines and totals do not reconcile
func NewEInvoice(p InvoiceParams) (*EInvoice, error) {
	var errs ValidationErrors

	docType := p.DocumentType
	if docType == "" {
		docType = DocumentTypeInvoice
	}
	if !docType.Valid() {
		errs = append(errs, NewValidationError("documentType", string(p.DocumentType), "enum", "unknown document type"))
	}

	lines := make([]InvoiceLine, 0, len(p.Lines))
	for i, lp := range p.Lines {
		line, lineErrs := buildLine(i, lp)
		errs = append(errs, lineErrs...)
		lines = append(lines, line)
	}

	computed := ComputeTotals(lines)
	totals := computed
	if p.Subtotal != nil {
		totals.Subtotal = *p.Subtotal
		if !money.Reconciles(*p.Subtotal, computed.Subtotal) {
			errs = append(errs, NewValidationError("subtotal", p.Subtotal.String(), "reconciliation",
				fmt.Sprintf("subtotal does not match sum of line totals %s", computed.Subtotal.StringFixed(2))))
		}
	}
	if p.TaxAmount != nil {
		totals.TaxAmount = *p.TaxAmount
		if !money.Reconciles(*p.TaxAmount, computed.TaxAmount) {
			errs = append(errs, NewValidationError("taxAmount", p.TaxAmount.String(), "reconciliation",
				fmt.Sprintf("tax amount does not match sum of line taxes %s", computed.TaxAmount.StringFixed(2))))
		}
	}
	totals.Total = totals.Subtotal.Add(totals.TaxAmount)
	if p.Total != nil {
		if !money.Reconciles(*p.Total, totals.Total) {
			errs = append(errs, NewValidationError("total", p.Total.String(), "reconciliation",
				fmt.Sprintf("total does not equal subtotal + tax amount %s", totals.Total.StringFixed(2))))
		}
		totals.Total = *p.Total
	}

	if len(errs) > 0 {
		return nil, errs
	}

	id := p.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &EInvoice{
		id:            id,
		number:        p.Number,
		issueDate:     p.IssueDate,
		dueDate:       p.DueDate,
		currency:      p.Currency,
		seller:        p.Seller,
		buyer:         p.Buyer,
		lines:         lines,
		totals:        totals,
		documentType:  docType,
		countryConfig: cloneCountryConfig(p.CountryConfig),
		notes:         p.Notes,
		paymentTerms:  p.PaymentTerms,
		paymentMethod: p.PaymentMethod,
		bankAccount:   p.BankAccount,
		corrects:      p.Corrects,
		tenantID:      p.TenantID,
		lifecycle:     NewLifecycle(),
	}, nil
}

func buildLine(i int, lp LineParams) (InvoiceLine, ValidationErrors) {
	var errs ValidationErrors

	line := NewLine(lp.Description, lp.Quantity, lp.UnitPrice, lp.TaxRate)
	if lp.UnitCode != "" {
		line.UnitCode = lp.UnitCode
	}
	if lp.TaxContext != "" {
		if !lp.TaxContext.Valid() {
			errs = append(errs, NewLineValidationError(i, "taxContext", string(lp.TaxContext), "enum", "unknown tax context"))
		}
		line.TaxContext = lp.TaxContext
	}
	if lp.LineTotal != nil && !money.Reconciles(*lp.LineTotal, line.LineTotal) {
		errs = append(errs, NewLineValidationError(i, "lineTotal", lp.LineTotal.String(), "reconciliation",
			fmt.Sprintf("line total must equal quantity x unit price (%s)", line.LineTotal.StringFixed(2))))
	}
	if lp.TaxAmount != nil && !money.Reconciles(*lp.TaxAmount, line.TaxAmount) {
		errs = append(errs, NewLineValidationError(i, "taxAmount", lp.TaxAmount.String(), "reconciliation",
			fmt.Sprintf("line tax must equal line total x rate (%s)", line.TaxAmount.StringFixed(2))))
	}
	return line, errs
}

// CorrectionParams carries the fields that change in a corrected invoice
type CorrectionParams struct {
	ID        string
	Number    string
	IssueDate time.Time
	Lines     []LineParams // nil keeps the original lines
	Notes     string
}

// NewCorrection creates a corrected invoice replacing a rejected one.
// The rejected invoice is left untouched.
func NewCorrection(rejected *EInvoice, p CorrectionParams) (*EInvoice, error) {
	if rejected.Status() != StatusRejected {
		return nil, fmt.Errorf("only rejected invoices can be corrected: %w",
			&StateError{From: rejected.Status(), To: StatusRejected})
	}

	params := rejected.Params()
	params.ID = p.ID
	params.Number = p.Number
	params.IssueDate = p.IssueDate
	params.DocumentType = DocumentTypeCorrected
	params.Subtotal, params.TaxAmount, params.Total = nil, nil, nil
	params.Corrects = &DocumentReference{
		InvoiceID:     rejected.ID(),
		InvoiceNumber: rejected.Number(),
		IssueDate:     rejected.IssueDate(),
	}
	if p.Lines != nil {
		params.Lines = p.Lines
	}
	if p.Notes != "" {
		params.Notes = p.Notes
	}
	return NewEInvoice(params)
}

// Params returns the inputs that would rebuild this invoice
func (e *EInvoice) Params() InvoiceParams {
	lines := make([]LineParams, 0, len(e.lines))
	for _, l := range e.lines {
		lines = append(lines, LineParams{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxRate:     l.TaxRate,
			TaxContext:  l.TaxContext,
			UnitCode:    l.UnitCode,
		})
	}
	subtotal, tax, total := e.totals.Subtotal, e.totals.TaxAmount, e.totals.Total
	return InvoiceParams{
		ID:            e.id,
		Number:        e.number,
		IssueDate:     e.issueDate,
		DueDate:       e.dueDate,
		Currency:      e.currency,
		Seller:        e.seller,
		Buyer:         e.buyer,
		Lines:         lines,
		Subtotal:      &subtotal,
		TaxAmount:     &tax,
		Total:         &total,
		DocumentType:  e.documentType,
		CountryConfig: cloneCountryConfig(e.countryConfig),
		Notes:         e.notes,
		PaymentTerms:  e.paymentTerms,
		PaymentMethod: e.paymentMethod,
		BankAccount:   e.bankAccount,
		Corrects:      e.corrects,
		TenantID:      e.tenantID,
	}
}

func (e *EInvoice) ID() string                   { return e.id }
func (e *EInvoice) Number() string               { return e.number }
func (e *EInvoice) IssueDate() time.Time         { return e.issueDate }
func (e *EInvoice) DueDate() time.Time           { return e.dueDate }
func (e *EInvoice) Currency() string             { return e.currency }
func (e *EInvoice) Seller() Party                { return e.seller }
func (e *EInvoice) Buyer() Party                 { return e.buyer }
func (e *EInvoice) Totals() Totals               { return e.totals }
func (e *EInvoice) Subtotal() decimal.Decimal    { return e.totals.Subtotal }
func (e *EInvoice) TaxAmount() decimal.Decimal   { return e.totals.TaxAmount }
func (e *EInvoice) Total() decimal.Decimal       { return e.totals.Total }
func (e *EInvoice) DocumentType() DocumentType   { return e.documentType }
func (e *EInvoice) Notes() string                { return e.notes }
func (e *EInvoice) PaymentTerms() string         { return e.paymentTerms }
func (e *EInvoice) PaymentMethod() string        { return e.paymentMethod }
func (e *EInvoice) BankAccount() string          { return e.bankAccount }
func (e *EInvoice) TenantID() string             { return e.tenantID }
func (e *EInvoice) Lifecycle() *Lifecycle        { return e.lifecycle }
func (e *EInvoice) Status() Status               { return e.lifecycle.Status() }
func (e *EInvoice) CountryConfig() CountryConfig { return cloneCountryConfig(e.countryConfig) }

// Lines returns a copy of the invoice lines
func (e *EInvoice) Lines() []InvoiceLine {
	out := make([]InvoiceLine, len(e.lines))
	copy(out, e.lines)
	return out
}

// Corrects returns the back-reference of a corrected invoice, or nil
func (e *EInvoice) Corrects() *DocumentReference {
	if e.corrects == nil {
		return nil
	}
	ref := *e.corrects
	return &ref
}

func cloneCountryConfig(c CountryConfig) CountryConfig {
	var out CountryConfig
	if c.France != nil {
		fr := *c.France
		out.France = &fr
	}
	if c.Germany != nil {
		de := *c.Germany
		out.Germany = &de
	}
	if c.Spain != nil {
		es := *c.Spain
		out.Spain = &es
	}
	return out
}
