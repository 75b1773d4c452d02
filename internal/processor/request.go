package processor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoicing/internal/model"
)

const dateLayout = "2006-01-02"

// Date is a calendar date carried as YYYY-MM-DD; RFC 3339 timestamps are accepted on input
type Date struct {
	time.Time
}

// NewDate wraps t
func NewDate(t time.Time) Date {
	return Date{Time: t}
}

// MarshalJSON writes the date, or null when unset
func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(dateLayout))
}

// UnmarshalJSON parses YYYY-MM-DD or RFC 3339
func (d *Date) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*d = Date{}
		return nil
	}
	for _, layout := range []string{dateLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			*d = Date{Time: t}
			return nil
		}
	}
	return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
}

// Reference points a corrected invoice at the one it replaces
type Reference struct {
	InvoiceID     string `json:"invoiceId"`
	InvoiceNumber string `json:"invoiceNumber"`
	IssueDate     Date   `json:"issueDate"`
}

// InvoiceRequest is the JSON form of an invoice accepted by the CLI and the HTTP API
type InvoiceRequest struct {
	Country       string              `json:"country"`
	ID            string              `json:"id,omitempty"`
	Number        string              `json:"number"`
	IssueDate     Date                `json:"issueDate"`
	DueDate       Date                `json:"dueDate"`
	Currency      string              `json:"currency"`
	Seller        model.Party         `json:"seller"`
	Buyer         model.Party         `json:"buyer"`
	Lines         []model.LineParams  `json:"lines"`
	Subtotal      *decimal.Decimal    `json:"subtotal,omitempty"`
	TaxAmount     *decimal.Decimal    `json:"taxAmount,omitempty"`
	Total         *decimal.Decimal    `json:"total,omitempty"`
	DocumentType  model.DocumentType  `json:"documentType,omitempty"`
	CountryConfig model.CountryConfig `json:"countryConfig"`
	Notes         string              `json:"notes,omitempty"`
	PaymentTerms  string              `json:"paymentTerms,omitempty"`
	PaymentMethod string              `json:"paymentMethod,omitempty"`
	BankAccount   string              `json:"bankAccount,omitempty"`
	Corrects      *Reference          `json:"corrects,omitempty"`
	TenantID      string              `json:"tenantId,omitempty"`
}

// DecodeRequest reads one invoice request, rejecting unknown fields
func DecodeRequest(data []byte) (*InvoiceRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var req InvoiceRequest
	if err := dec.Decode(&req); err != nil {
		return nil, model.NewParseError("json", "invoice", "failed to decode invoice", err)
	}
	return &req, nil
}

// Params converts the request into the engine's invoice parameters
func (r *InvoiceRequest) Params() model.InvoiceParams {
	p := model.InvoiceParams{
		ID:            r.ID,
		Number:        r.Number,
		IssueDate:     r.IssueDate.Time,
		DueDate:       r.DueDate.Time,
		Currency:      r.Currency,
		Seller:        r.Seller,
		Buyer:         r.Buyer,
		Lines:         r.Lines,
		Subtotal:      r.Subtotal,
		TaxAmount:     r.TaxAmount,
		Total:         r.Total,
		DocumentType:  r.DocumentType,
		CountryConfig: r.CountryConfig,
		Notes:         r.Notes,
		PaymentTerms:  r.PaymentTerms,
		PaymentMethod: r.PaymentMethod,
		BankAccount:   r.BankAccount,
		TenantID:      r.TenantID,
	}
	if r.Corrects != nil {
		p.Corrects = &model.DocumentReference{
			InvoiceID:     r.Corrects.InvoiceID,
			InvoiceNumber: r.Corrects.InvoiceNumber,
			IssueDate:     r.Corrects.IssueDate.Time,
		}
	}
	return p
}
