package xml

import (
	"time"

	"github.com/shopspring/decimal"
)

// ParsedInvoice summarises an e-invoice document
type ParsedInvoice struct {
	Format    string    `json:"format"`
	Number    string    `json:"number"`
	TypeCode  string    `json:"typeCode"`
	Guideline string    `json:"guideline,omitempty"`
	IssueDate time.Time `json:"issueDate"`
	Currency  string    `json:"currency,omitempty"`

	Seller ParsedParty `json:"seller"`
	Buyer  ParsedParty `json:"buyer"`

	Lines     int             `json:"lines"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"taxAmount"`
	Total     decimal.Decimal `json:"total"`
	Taxes     []ParsedTax     `json:"taxes"`

	// References lists the numbers of invoices this document corrects
	References []string `json:"references,omitempty"`
	Signed     bool     `json:"signed"`
}

// ParsedParty is a seller or buyer as found in the document
type ParsedParty struct {
	Name    string `json:"name"`
	TaxID   string `json:"taxId,omitempty"`
	Country string `json:"country,omitempty"`
}

// ParsedTax is one tax breakdown group
type ParsedTax struct {
	Category string          `json:"category"`
	Rate     decimal.Decimal `json:"rate"`
	Basis    decimal.Decimal `json:"basis"`
	Amount   decimal.Decimal `json:"amount"`
}

func parseAmount(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
