// Package fiscal holds per-country tax reference data: allowed VAT rates,
// fiscal identifier formats, required invoice fields and periodic returns.
// The table is loaded once from an embedded YAML file and never mutated.
package fiscal

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/rezonia/einvoicing/internal/model"
)

//go:embed countries.yaml
var countriesYAML []byte

// Frequency is how often a fiscal model is filed
type Frequency string

const (
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyAnnual    Frequency = "annual"
)

// TaxRate is one VAT rate applicable in a country
type TaxRate struct {
	Name        string          `json:"name"`
	Rate        decimal.Decimal `json:"rate"`
	Description string          `json:"description"`
	IsDefault   bool            `json:"isDefault,omitempty"`
}

// FiscalModel is a periodic tax return
type FiscalModel struct {
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Frequency   Frequency `json:"frequency"`
	Deadline    string    `json:"deadline"`
}

// CountryFiscalConfig is the reference data of one country
type CountryFiscalConfig struct {
	Code                string        `json:"code"`
	Name                string        `json:"name"`
	Flag                string        `json:"flag"`
	Currency            string        `json:"currency"`
	CurrencySymbol      string        `json:"currencySymbol"`
	Locale              string        `json:"locale"`
	TaxName             string        `json:"taxName"`
	TaxRates            []TaxRate     `json:"taxRates"`
	FiscalIDName        string        `json:"fiscalIdName"`
	FiscalIDFormat      string        `json:"fiscalIdFormat"`
	RequiredFields      []string      `json:"requiredFields"`
	InvoiceRequirements []string      `json:"invoiceRequirements"`
	FiscalModels        []FiscalModel `json:"fiscalModels"`
}

func (c CountryFiscalConfig) clone() CountryFiscalConfig {
	c.TaxRates = append([]TaxRate(nil), c.TaxRates...)
	c.RequiredFields = append([]string(nil), c.RequiredFields...)
	c.InvoiceRequirements = append([]string(nil), c.InvoiceRequirements...)
	c.FiscalModels = append([]FiscalModel(nil), c.FiscalModels...)
	return c
}

// CountrySummary is the short form listed by GetAvailableCountries
type CountrySummary struct {
	Code string `json:"code"`
	Name string `json:"name"`
	Flag string `json:"flag"`
}

// Table is an immutable set of country configurations
type Table struct {
	order     []string
	countries map[string]*entry
}

type entry struct {
	config   CountryFiscalConfig
	fiscalID *regexp.Regexp
	def      TaxRate
}

// raw YAML shapes; rates are strings so decimals are exact
type rawFile struct {
	Countries []rawCountry `yaml:"countries"`
}

type rawCountry struct {
	Code                string   `yaml:"code"`
	Name                string   `yaml:"name"`
	Flag                string   `yaml:"flag"`
	Currency            string   `yaml:"currency"`
	CurrencySymbol      string   `yaml:"currencySymbol"`
	Locale              string   `yaml:"locale"`
	TaxName             string   `yaml:"taxName"`
	TaxRates            []rawTax `yaml:"taxRates"`
	FiscalIDName        string   `yaml:"fiscalIdName"`
	FiscalIDFormat      string   `yaml:"fiscalIdFormat"`
	RequiredFields      []string `yaml:"requiredFields"`
	InvoiceRequirements []string `yaml:"invoiceRequirements"`
	FiscalModels        []struct {
		Code        string    `yaml:"code"`
		Name        string    `yaml:"name"`
		Description string    `yaml:"description"`
		Frequency   Frequency `yaml:"frequency"`
		Deadline    string    `yaml:"deadline"`
	} `yaml:"fiscalModels"`
}

type rawTax struct {
	Name        string `yaml:"name"`
	Rate        string `yaml:"rate"`
	Description string `yaml:"description"`
	IsDefault   bool   `yaml:"isDefault"`
}

// Load parses a fiscal data file. It fails on duplicate countries, invalid
// regexes, unparsable rates, and countries without exactly one default rate.
func Load(data []byte) (*Table, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse fiscal data: %w", err)
	}
	if len(raw.Countries) == 0 {
		return nil, fmt.Errorf("fiscal data contains no countries")
	}

	t := &Table{
		order:     make([]string, 0, len(raw.Countries)),
		countries: make(map[string]*entry, len(raw.Countries)),
	}
	for _, rc := range raw.Countries {
		e, err := buildEntry(rc)
		if err != nil {
			return nil, fmt.Errorf("country %s: %w", rc.Code, err)
		}
		if _, dup := t.countries[rc.Code]; dup {
			return nil, fmt.Errorf("country %s declared twice", rc.Code)
		}
		t.order = append(t.order, rc.Code)
		t.countries[rc.Code] = e
	}
	return t, nil
}

func buildEntry(rc rawCountry) (*entry, error) {
	if len(rc.Code) != 2 || strings.ToUpper(rc.Code) != rc.Code {
		return nil, fmt.Errorf("invalid ISO code %q", rc.Code)
	}

	re, err := regexp.Compile(rc.FiscalIDFormat)
	if err != nil {
		return nil, fmt.Errorf("invalid fiscal id format: %w", err)
	}

	e := &entry{fiscalID: re}
	cfg := CountryFiscalConfig{
		Code:                rc.Code,
		Name:                rc.Name,
		Flag:                rc.Flag,
		Currency:            rc.Currency,
		CurrencySymbol:      rc.CurrencySymbol,
		Locale:              rc.Locale,
		TaxName:             rc.TaxName,
		FiscalIDName:        rc.FiscalIDName,
		FiscalIDFormat:      rc.FiscalIDFormat,
		RequiredFields:      rc.RequiredFields,
		InvoiceRequirements: rc.InvoiceRequirements,
	}

	defaults := 0
	for _, rt := range rc.TaxRates {
		rate, err := decimal.NewFromString(rt.Rate)
		if err != nil {
			return nil, fmt.Errorf("invalid rate %q: %w", rt.Rate, err)
		}
		tr := TaxRate{Name: rt.Name, Rate: rate, Description: rt.Description, IsDefault: rt.IsDefault}
		if tr.IsDefault {
			defaults++
			e.def = tr
		}
		cfg.TaxRates = append(cfg.TaxRates, tr)
	}
	if defaults != 1 {
		return nil, fmt.Errorf("expected exactly one default tax rate, found %d", defaults)
	}

	for _, fm := range rc.FiscalModels {
		switch fm.Frequency {
		case FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		default:
			return nil, fmt.Errorf("fiscal model %s: unknown frequency %q", fm.Code, fm.Frequency)
		}
		cfg.FiscalModels = append(cfg.FiscalModels, FiscalModel(fm))
	}

	e.config = cfg
	return e, nil
}

var (
	defaultOnce  sync.Once
	defaultTable *Table
)

// Default returns the table built from the embedded data
func Default() *Table {
	defaultOnce.Do(func() {
		t, err := Load(countriesYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded fiscal data is invalid: %v", err))
		}
		defaultTable = t
	})
	return defaultTable
}

func (t *Table) lookup(code string) (*entry, error) {
	e, ok := t.countries[strings.ToUpper(strings.TrimSpace(code))]
	if !ok {
		return nil, model.NewUnsupportedJurisdictionError(code)
	}
	return e, nil
}

// Config returns the configuration of a country
func (t *Table) Config(code string) (CountryFiscalConfig, error) {
	e, err := t.lookup(code)
	if err != nil {
		return CountryFiscalConfig{}, err
	}
	return e.config.clone(), nil
}

// Countries lists all countries in declaration order
func (t *Table) Countries() []CountrySummary {
	out := make([]CountrySummary, 0, len(t.order))
	for _, code := range t.order {
		c := t.countries[code].config
		out = append(out, CountrySummary{Code: c.Code, Name: c.Name, Flag: c.Flag})
	}
	return out
}

// DefaultTaxRate returns the country's standard rate
func (t *Table) DefaultTaxRate(code string) (TaxRate, error) {
	e, err := t.lookup(code)
	if err != nil {
		return TaxRate{}, err
	}
	return e.def, nil
}

// ValidateFiscalID matches id against the country's fiscal identifier pattern
func (t *Table) ValidateFiscalID(id, code string) (bool, error) {
	e, err := t.lookup(code)
	if err != nil {
		return false, err
	}
	return e.fiscalID.MatchString(strings.ReplaceAll(strings.TrimSpace(id), " ", "")), nil
}

// AllowedRates returns the rates that may appear on an invoice line
func (t *Table) AllowedRates(code string) ([]decimal.Decimal, error) {
	e, err := t.lookup(code)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, 0, len(e.config.TaxRates))
	for _, r := range e.config.TaxRates {
		out = append(out, r.Rate)
	}
	return out, nil
}

// IsAllowedRate reports whether rate is one of the country's rates
func (t *Table) IsAllowedRate(code string, rate decimal.Decimal) (bool, error) {
	e, err := t.lookup(code)
	if err != nil {
		return false, err
	}
	for _, r := range e.config.TaxRates {
		if r.Rate.Equal(rate) {
			return true, nil
		}
	}
	return false, nil
}

// GetFiscalConfig returns the configuration of a country
func GetFiscalConfig(code string) (CountryFiscalConfig, error) {
	return Default().Config(code)
}

// GetAvailableCountries lists every country with fiscal data
func GetAvailableCountries() []CountrySummary {
	return Default().Countries()
}

// GetDefaultTaxRate returns the country's standard rate
func GetDefaultTaxRate(code string) (TaxRate, error) {
	return Default().DefaultTaxRate(code)
}

// ValidateFiscalID matches id against the country's fiscal identifier pattern
func ValidateFiscalID(id, code string) (bool, error) {
	return Default().ValidateFiscalID(id, code)
}

// IsAllowedRate reports whether rate is one of the country's rates
func IsAllowedRate(code string, rate decimal.Decimal) (bool, error) {
	return Default().IsAllowedRate(code, rate)
}

// AllowedRates returns the rates that may appear on an invoice line
func AllowedRates(code string) ([]decimal.Decimal, error) {
	return Default().AllowedRates(code)
}
