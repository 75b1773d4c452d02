// Package cii builds UN/CEFACT Cross Industry Invoice documents, the XML
// syntax shared by Factur-X, ZUGFeRD and XRechnung.
package cii

import (
	"sort"
	"strconv"

	"github.com/beevik/etree"
	"github.com/shopspring/decimal"

	money "github.com/rezonia/einvoicing/internal/decimal"
	"github.com/rezonia/einvoicing/internal/model"
)

// Namespaces of the CII D16B schema
const (
	NamespaceRSM = "urn:un:unece:uncefact:data:standard:CrossIndustryInvoice:100"
	NamespaceRAM = "urn:un:unece:uncefact:data:standard:ReusableAggregateBusinessInformationEntity:100"
	NamespaceUDT = "urn:un:unece:uncefact:data:standard:UnqualifiedDataType:100"
	NamespaceQDT = "urn:un:unece:uncefact:data:standard:QualifiedDataType:100"
)

// date format code 102 is CCYYMMDD
const dateFormat = "20060102"

// Options carries the jurisdiction-specific parts of the document
type Options struct {
	Profile model.Profile

	// BusinessProcess is BT-23, e.g. "A1" for Chorus Pro
	BusinessProcess string

	// BuyerReference is BT-10: service code in France, Leitweg-ID in Germany
	BuyerReference string

	// OrderReference is BT-13, the French engagement number
	OrderReference string

	// SellerLegalID is BT-30 with its ISO 6523 scheme (0002 SIREN/SIRET)
	SellerLegalID       string
	SellerLegalIDScheme string

	PaymentMeansCode string

	// Category overrides the context based category mapping
	Category func(line model.InvoiceLine) model.TaxCategory
}

func (o Options) category(line model.InvoiceLine) model.TaxCategory {
	if o.Category != nil {
		return o.Category(line)
	}
	return line.TaxContext.Category(line.TaxRate)
}

// TaxGroup is one entry of the VAT breakdown
type TaxGroup struct {
	Category  model.TaxCategory
	Rate      decimal.Decimal
	Basis     decimal.Decimal
	TaxAmount decimal.Decimal
}

// TaxBreakdown groups lines by category and rate, ordered by category then rate
func TaxBreakdown(lines []model.InvoiceLine, category func(model.InvoiceLine) model.TaxCategory) []TaxGroup {
	index := make(map[string]int)
	var groups []TaxGroup
	for _, l := range lines {
		cat := category(l)
		key := string(cat) + "|" + l.TaxRate.String()
		i, ok := index[key]
		if !ok {
			i = len(groups)
			index[key] = i
			groups = append(groups, TaxGroup{Category: cat, Rate: l.TaxRate, Basis: money.Zero, TaxAmount: money.Zero})
		}
		groups[i].Basis = groups[i].Basis.Add(l.LineTotal)
		groups[i].TaxAmount = groups[i].TaxAmount.Add(l.TaxAmount)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		if groups[a].Category != groups[b].Category {
			return groups[a].Category < groups[b].Category
		}
		return groups[a].Rate.LessThan(groups[b].Rate)
	})
	return groups
}

// Build renders the invoice as CII XML. Output depends only on the invoice
// and options, so identical inputs produce identical bytes.
func Build(inv *model.EInvoice, opts Options) ([]byte, error) {
	profile := opts.Profile
	if profile == "" {
		profile = model.ProfileEN16931
	}
	b := &builder{inv: inv, opts: opts, profile: profile}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	root := doc.CreateElement("rsm:CrossIndustryInvoice")
	root.CreateAttr("xmlns:rsm", NamespaceRSM)
	root.CreateAttr("xmlns:ram", NamespaceRAM)
	root.CreateAttr("xmlns:udt", NamespaceUDT)
	root.CreateAttr("xmlns:qdt", NamespaceQDT)

	b.context(root)
	b.header(root)

	tx := root.CreateElement("rsm:SupplyChainTradeTransaction")
	if profile.HasLines() {
		for i, line := range inv.Lines() {
			b.line(tx, i, line)
		}
	}
	b.agreement(tx)
	tx.CreateElement("ram:ApplicableHeaderTradeDelivery")
	b.settlement(tx)

	doc.Indent(2)
	return doc.WriteToBytes()
}

type builder struct {
	inv     *model.EInvoice
	opts    Options
	profile model.Profile
}

func (b *builder) context(root *etree.Element) {
	ctx := root.CreateElement("rsm:ExchangedDocumentContext")
	if b.opts.BusinessProcess != "" {
		text(ctx.CreateElement("ram:BusinessProcessSpecifiedDocumentContextParameter"), "ram:ID", b.opts.BusinessProcess)
	}
	text(ctx.CreateElement("ram:GuidelineSpecifiedDocumentContextParameter"), "ram:ID", b.profile.GuidelineID())
}

func (b *builder) header(root *etree.Element) {
	hdr := root.CreateElement("rsm:ExchangedDocument")
	text(hdr, "ram:ID", b.inv.Number())
	text(hdr, "ram:TypeCode", b.inv.DocumentType().UNTDIDCode())
	date(hdr.CreateElement("ram:IssueDateTime"), "udt:DateTimeString", b.inv)
	if b.inv.Notes() != "" && b.profile != model.ProfileMinimum {
		text(hdr.CreateElement("ram:IncludedNote"), "ram:Content", b.inv.Notes())
	}
}

func (b *builder) line(tx *etree.Element, i int, line model.InvoiceLine) {
	item := tx.CreateElement("ram:IncludedSupplyChainTradeLineItem")
	text(item.CreateElement("ram:AssociatedDocumentLineDocument"), "ram:LineID", strconv.Itoa(i+1))
	text(item.CreateElement("ram:SpecifiedTradeProduct"), "ram:Name", line.Description)

	agreement := item.CreateElement("ram:SpecifiedLineTradeAgreement")
	text(agreement.CreateElement("ram:NetPriceProductTradePrice"), "ram:ChargeAmount", money.Format(line.UnitPrice))

	delivery := item.CreateElement("ram:SpecifiedLineTradeDelivery")
	qty := text(delivery, "ram:BilledQuantity", money.FormatQuantity(line.Quantity))
	qty.CreateAttr("unitCode", line.UnitCode)

	settlement := item.CreateElement("ram:SpecifiedLineTradeSettlement")
	tax := settlement.CreateElement("ram:ApplicableTradeTax")
	text(tax, "ram:TypeCode", "VAT")
	text(tax, "ram:CategoryCode", string(b.opts.category(line)))
	text(tax, "ram:RateApplicablePercent", money.FormatRate(line.TaxRate))
	text(settlement.CreateElement("ram:SpecifiedTradeSettlementLineMonetarySummation"),
		"ram:LineTotalAmount", money.Format(line.LineTotal))
}

func (b *builder) agreement(tx *etree.Element) {
	agr := tx.CreateElement("ram:ApplicableHeaderTradeAgreement")
	if b.opts.BuyerReference != "" {
		text(agr, "ram:BuyerReference", b.opts.BuyerReference)
	}

	seller := agr.CreateElement("ram:SellerTradeParty")
	text(seller, "ram:Name", b.inv.Seller().Name)
	if b.opts.SellerLegalID != "" {
		legal := seller.CreateElement("ram:SpecifiedLegalOrganization")
		id := text(legal, "ram:ID", b.opts.SellerLegalID)
		if b.opts.SellerLegalIDScheme != "" {
			id.CreateAttr("schemeID", b.opts.SellerLegalIDScheme)
		}
	}
	b.party(seller, b.inv.Seller(), b.profile == model.ProfileExtended)

	buyer := agr.CreateElement("ram:BuyerTradeParty")
	text(buyer, "ram:Name", b.inv.Buyer().Name)
	b.party(buyer, b.inv.Buyer(), false)

	if b.opts.OrderReference != "" {
		text(agr.CreateElement("ram:BuyerOrderReferencedDocument"), "ram:IssuerAssignedID", b.opts.OrderReference)
	}
}

func (b *builder) party(el *etree.Element, p model.Party, withEmail bool) {
	if b.profile != model.ProfileMinimum || p.Address.Country != "" {
		addr := el.CreateElement("ram:PostalTradeAddress")
		if b.profile != model.ProfileMinimum {
			optional(addr, "ram:PostcodeCode", p.Address.PostalCode)
			optional(addr, "ram:LineOne", p.Address.Street)
			optional(addr, "ram:CityName", p.Address.City)
		}
		optional(addr, "ram:CountryID", p.Address.Country)
	}
	if withEmail && p.Email != "" {
		uri := text(el.CreateElement("ram:URIUniversalCommunication"), "ram:URIID", p.Email)
		uri.CreateAttr("schemeID", "EM")
	}
	if p.TaxID != "" {
		id := text(el.CreateElement("ram:SpecifiedTaxRegistration"), "ram:ID", p.TaxID)
		id.CreateAttr("schemeID", "VA")
	}
}

func (b *builder) settlement(tx *etree.Element) {
	st := tx.CreateElement("ram:ApplicableHeaderTradeSettlement")
	text(st, "ram:InvoiceCurrencyCode", b.inv.Currency())

	if b.profile != model.ProfileMinimum {
		if b.opts.PaymentMeansCode != "" {
			pm := st.CreateElement("ram:SpecifiedTradeSettlementPaymentMeans")
			text(pm, "ram:TypeCode", b.opts.PaymentMeansCode)
			if b.inv.BankAccount() != "" {
				text(pm.CreateElement("ram:PayeePartyCreditorFinancialAccount"), "ram:IBANID", b.inv.BankAccount())
			}
		}

		for _, g := range TaxBreakdown(b.inv.Lines(), b.opts.category) {
			tax := st.CreateElement("ram:ApplicableTradeTax")
			text(tax, "ram:CalculatedAmount", money.Format(g.TaxAmount))
			text(tax, "ram:TypeCode", "VAT")
			code, reason := g.Category.ExemptionReason()
			if reason != "" {
				text(tax, "ram:ExemptionReason", reason)
			}
			text(tax, "ram:BasisAmount", money.Format(g.Basis))
			text(tax, "ram:CategoryCode", string(g.Category))
			if code != "" {
				text(tax, "ram:ExemptionReasonCode", code)
			}
			text(tax, "ram:RateApplicablePercent", money.FormatRate(g.Rate))
		}

		if b.inv.PaymentTerms() != "" || !b.inv.DueDate().IsZero() {
			terms := st.CreateElement("ram:SpecifiedTradePaymentTerms")
			optional(terms, "ram:Description", b.inv.PaymentTerms())
			if !b.inv.DueDate().IsZero() {
				ds := text(terms.CreateElement("ram:DueDateDateTime"), "udt:DateTimeString", b.inv.DueDate().Format(dateFormat))
				ds.CreateAttr("format", "102")
			}
		}
	}

	totals := b.inv.Totals()
	sum := st.CreateElement("ram:SpecifiedTradeSettlementHeaderMonetarySummation")
	if b.profile != model.ProfileMinimum {
		text(sum, "ram:LineTotalAmount", money.Format(totals.Subtotal))
	}
	text(sum, "ram:TaxBasisTotalAmount", money.Format(totals.Subtotal))
	taxTotal := text(sum, "ram:TaxTotalAmount", money.Format(totals.TaxAmount))
	taxTotal.CreateAttr("currencyID", b.inv.Currency())
	text(sum, "ram:GrandTotalAmount", money.Format(totals.Total))
	text(sum, "ram:DuePayableAmount", money.Format(totals.Total))

	if ref := b.inv.Corrects(); ref != nil {
		doc := st.CreateElement("ram:InvoiceReferencedDocument")
		text(doc, "ram:IssuerAssignedID", ref.InvoiceNumber)
		if !ref.IssueDate.IsZero() {
			ds := text(doc.CreateElement("ram:FormattedIssueDateTime"), "qdt:DateTimeString", ref.IssueDate.Format(dateFormat))
			ds.CreateAttr("format", "102")
		}
	}
}

func text(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func optional(parent *etree.Element, tag, value string) {
	if value != "" {
		text(parent, tag, value)
	}
}

func date(parent *etree.Element, tag string, inv *model.EInvoice) {
	el := text(parent, tag, inv.IssueDate().Format(dateFormat))
	el.CreateAttr("format", "102")
}
