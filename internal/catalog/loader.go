package catalog

import (
	"fmt"

	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/segyhp/loan-ledger/pkg/utils"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// productFile mirrors the products file layout. Money and rates are strings
// so they never pass through float64.
type productFile struct {
	Products []productEntry `mapstructure:"products"`
}

type productEntry struct {
	ID                   string    `mapstructure:"id"`
	Name                 string    `mapstructure:"name"`
	TenorMonths          int       `mapstructure:"tenor_months"`
	InterestRatePercent  string    `mapstructure:"interest_rate_percent"`
	InterestType         string    `mapstructure:"interest_type"`
	MaxAmount            string    `mapstructure:"max_amount"`
	MaxMultipleOfSavings string    `mapstructure:"max_multiple_of_savings"`
	LateFine             ruleEntry `mapstructure:"late_fine"`
	OutstandingFine      ruleEntry `mapstructure:"outstanding_fine"`
}

type ruleEntry struct {
	Enabled     bool   `mapstructure:"enabled"`
	Kind        string `mapstructure:"kind"`
	Value       string `mapstructure:"value"`
	ChargeBasis string `mapstructure:"charge_basis"`
	Frequency   string `mapstructure:"frequency"`
	GraceDays   int    `mapstructure:"grace_days"`
}

// LoadFile reads product definitions from a YAML, JSON or TOML file and
// registers them.
func (r *Registry) LoadFile(path string) (int, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return 0, fmt.Errorf("read products file: %w", err)
	}
	return r.load(v)
}

func (r *Registry) load(v *viper.Viper) (int, error) {
	var file productFile
	if err := v.Unmarshal(&file); err != nil {
		return 0, fmt.Errorf("decode products: %w", err)
	}

	for i, entry := range file.Products {
		p, err := entry.toProduct()
		if err != nil {
			return i, fmt.Errorf("product %q: %w", entry.ID, err)
		}
		if err := r.Register(p); err != nil {
			return i, err
		}
	}
	return len(file.Products), nil
}

func (e productEntry) toProduct() (*domain.LoanProduct, error) {
	rate, err := parseDecimal(e.InterestRatePercent, "interest_rate_percent")
	if err != nil {
		return nil, err
	}
	p := &domain.LoanProduct{
		ID:                  e.ID,
		Name:                e.Name,
		TenorMonths:         e.TenorMonths,
		InterestRatePercent: rate,
		InterestType:        domain.InterestType(e.InterestType),
	}
	if p.MaxAmount, err = parseOptional(e.MaxAmount, "max_amount"); err != nil {
		return nil, err
	}
	if p.MaxMultipleOfSavings, err = parseOptional(e.MaxMultipleOfSavings, "max_multiple_of_savings"); err != nil {
		return nil, err
	}
	if p.LateFineRule, err = e.LateFine.toRule("late_fine"); err != nil {
		return nil, err
	}
	if p.OutstandingFineRule, err = e.OutstandingFine.toRule("outstanding_fine"); err != nil {
		return nil, err
	}
	return p, nil
}

func (e ruleEntry) toRule(name string) (domain.FineRule, error) {
	rule := domain.FineRule{
		Enabled:     e.Enabled,
		Kind:        domain.FineKind(e.Kind),
		ChargeBasis: domain.ChargeBasis(e.ChargeBasis),
		Frequency:   domain.FineFrequency(e.Frequency),
		GraceDays:   e.GraceDays,
	}
	if e.Value == "" {
		return rule, nil
	}
	value, err := parseDecimal(e.Value, name+".value")
	if err != nil {
		return rule, err
	}
	rule.Value = value
	return rule, nil
}

func parseDecimal(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := utils.DecimalFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s must be a decimal: %w", field, err)
	}
	return d, nil
}

func parseOptional(s, field string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := parseDecimal(s, field)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
