package france

import (
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/rezonia/einvoicing/internal/model"
)

// UNTDID 4461 payment means codes
const (
	PaymentCash           = "10"
	PaymentCheque         = "20"
	PaymentCreditTransfer = "30"
	PaymentCard           = "48"
	PaymentDirectDebit    = "59"
)

// Category maps a rate and its transaction context to the VAT category code.
// Rates outside the French set are rejected by validation before this runs.
func Category(rate decimal.Decimal, ctx model.TaxContext) model.TaxCategory {
	return ctx.Category(rate)
}

var paymentKeywords = []struct {
	code     string
	keywords []string
}{
	{PaymentCash, []string{"espèces", "especes", "cash", "efectivo"}},
	{PaymentCard, []string{"carte", "card", "tarjeta"}},
	{PaymentDirectDebit, []string{"prélèvement", "prelevement", "sepa", "direct debit"}},
	{PaymentCheque, []string{"chèque", "cheque"}},
}

// PaymentMeansCode maps a free-text payment method to its code.
// Unknown or empty text falls back to credit transfer.
func PaymentMeansCode(method string) string {
	m := strings.ToLower(strings.TrimSpace(method))
	if m == "" {
		return PaymentCreditTransfer
	}
	for _, pk := range paymentKeywords {
		for _, kw := range pk.keywords {
			if strings.Contains(m, kw) {
				return pk.code
			}
		}
	}
	return PaymentCreditTransfer
}

var ibanPattern = regexp.MustCompile(`^[A-Z]{2}[0-9]{2}[A-Z0-9]{11,30}$`)

// ValidIBAN checks the IBAN structure and its mod-97 checksum
func ValidIBAN(iban string) bool {
	s := strings.ToUpper(strings.ReplaceAll(iban, " ", ""))
	if !ibanPattern.MatchString(s) {
		return false
	}

	var digits strings.Builder
	for _, r := range s[4:] + s[:4] {
		if r >= 'A' && r <= 'Z' {
			digits.WriteString(strconv.Itoa(int(r-'A') + 10))
			continue
		}
		digits.WriteRune(r)
	}
	n, ok := new(big.Int).SetString(digits.String(), 10)
	if !ok {
		return false
	}
	return new(big.Int).Mod(n, big.NewInt(97)).Int64() == 1
}
