package fiscal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// locales that write the symbol before the amount
var symbolFirst = map[string]bool{
	"en-GB": true,
	"es-MX": true,
	"es-AR": true,
	"es-CO": true,
	"es-CL": true,
}

// FormatCurrency renders amount with the country's grouping, decimal separator,
// currency scale and symbol placement.
func (t *Table) FormatCurrency(amount decimal.Decimal, code string) (string, error) {
	e, err := t.lookup(code)
	if err != nil {
		return "", err
	}
	cfg := e.config

	scale := 2
	if unit, err := currency.ParseISO(cfg.Currency); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
	}

	tag, err := language.Parse(cfg.Locale)
	if err != nil {
		return "", fmt.Errorf("country %s: invalid locale %q: %w", cfg.Code, cfg.Locale, err)
	}

	rounded := amount.Round(int32(scale))
	p := message.NewPrinter(tag)
	formatted := p.Sprint(number.Decimal(rounded.InexactFloat64(), number.Scale(scale)))

	if symbolFirst[cfg.Locale] {
		if strings.HasPrefix(formatted, "-") {
			return "-" + cfg.CurrencySymbol + formatted[1:], nil
		}
		return cfg.CurrencySymbol + formatted, nil
	}
	return formatted + " " + cfg.CurrencySymbol, nil
}

// FormatDate renders t as a two-digit day and month and four-digit year in the
// country's order and separator.
func (t *Table) FormatDate(date time.Time, code string) (string, error) {
	e, err := t.lookup(code)
	if err != nil {
		return "", err
	}

	switch e.config.Locale {
	case "de-DE":
		return date.Format("02.01.2006"), nil
	case "es-CL":
		return date.Format("02-01-2006"), nil
	default:
		return date.Format("02/01/2006"), nil
	}
}

// FiscalPeriod identifies the current filing period of a country's main return
type FiscalPeriod struct {
	Period string `json:"period"`
	Year   int    `json:"year"`
}

// CurrentFiscalPeriod derives the period from the frequency of the country's
// first fiscal model: M<month>, <quarter>T or Anual.
func (t *Table) CurrentFiscalPeriod(code string, now time.Time) (FiscalPeriod, error) {
	e, err := t.lookup(code)
	if err != nil {
		return FiscalPeriod{}, err
	}

	fp := FiscalPeriod{Year: now.Year()}
	freq := FrequencyAnnual
	if len(e.config.FiscalModels) > 0 {
		freq = e.config.FiscalModels[0].Frequency
	}

	switch freq {
	case FrequencyMonthly:
		fp.Period = fmt.Sprintf("M%d", int(now.Month()))
	case FrequencyQuarterly:
		fp.Period = fmt.Sprintf("%dT", (int(now.Month())-1)/3+1)
	default:
		fp.Period = "Anual"
	}
	return fp, nil
}

// FormatCurrencyForCountry renders amount the way the country writes money
func FormatCurrencyForCountry(amount decimal.Decimal, code string) (string, error) {
	return Default().FormatCurrency(amount, code)
}

// FormatDateForCountry renders a date the way the country writes it
func FormatDateForCountry(date time.Time, code string) (string, error) {
	return Default().FormatDate(date, code)
}

// CurrentFiscalPeriod returns the filing period containing now
func CurrentFiscalPeriod(code string, now time.Time) (FiscalPeriod, error) {
	return Default().CurrentFiscalPeriod(code, now)
}
