// Package catalog holds the loan product definitions loans are issued against.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/segyhp/loan-ledger/internal/domain"
	customError "github.com/segyhp/loan-ledger/pkg/errors"
)

// ProductProvider supplies product definitions to the loan service.
type ProductProvider interface {
	GetProduct(ctx context.Context, id string) (*domain.LoanProduct, error)
	ListProducts(ctx context.Context) ([]*domain.LoanProduct, error)
}

// Registry is an in-memory ProductProvider. Products are immutable once
// registered: a second registration under the same ID is rejected and every
// read returns a copy.
type Registry struct {
	mu        sync.RWMutex
	products  map[string]*domain.LoanProduct
	validator *validator.Validate
}

func NewRegistry() *Registry {
	return &Registry{
		products:  make(map[string]*domain.LoanProduct),
		validator: validator.New(),
	}
}

// Register validates and stores a product.
func (r *Registry) Register(p *domain.LoanProduct) error {
	if err := r.validate(p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.products[p.ID]; exists {
		return customError.WrapProductAlreadyExists(p.ID)
	}
	r.products[p.ID] = p.Clone()
	return nil
}

func (r *Registry) GetProduct(ctx context.Context, id string) (*domain.LoanProduct, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.products[id]
	if !ok {
		return nil, customError.WrapProductNotFound(id)
	}
	return p.Clone(), nil
}

func (r *Registry) ListProducts(ctx context.Context) ([]*domain.LoanProduct, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.LoanProduct, 0, len(r.products))
	for _, p := range r.products {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Registry) validate(p *domain.LoanProduct) error {
	if err := r.validator.Struct(p); err != nil {
		field := "product"
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			field = verrs[0].Namespace()
		}
		return customError.WrapInvalidProduct(p.ID, field, "failed validation: "+err.Error())
	}
	if p.InterestRatePercent.IsNegative() {
		return customError.WrapInvalidProduct(p.ID, "interest_rate_percent", "must not be negative")
	}
	if (p.MaxAmount == nil) == (p.MaxMultipleOfSavings == nil) {
		return customError.WrapInvalidProduct(p.ID, "max_amount", "exactly one of max_amount and max_multiple_of_savings must be set")
	}
	if p.MaxAmount != nil && !p.MaxAmount.IsPositive() {
		return customError.WrapInvalidProduct(p.ID, "max_amount", "must be greater than 0")
	}
	if p.MaxMultipleOfSavings != nil && !p.MaxMultipleOfSavings.IsPositive() {
		return customError.WrapInvalidProduct(p.ID, "max_multiple_of_savings", "must be greater than 0")
	}
	if err := validateRule(p.ID, "late_fine_rule", p.LateFineRule); err != nil {
		return err
	}
	return validateRule(p.ID, "outstanding_fine_rule", p.OutstandingFineRule)
}

func validateRule(productID, name string, rule domain.FineRule) error {
	if !rule.Enabled {
		return nil
	}
	if rule.Kind == "" {
		return customError.WrapInvalidProduct(productID, name+".kind", "is required when the rule is enabled")
	}
	if !rule.Value.IsPositive() {
		return customError.WrapInvalidProduct(productID, name+".value", "must be greater than 0")
	}
	if rule.Frequency == "" {
		return customError.WrapInvalidProduct(productID, name+".frequency", "is required when the rule is enabled")
	}
	if rule.Kind == domain.FineKindPercentage && rule.ChargeBasis == "" {
		return customError.WrapInvalidProduct(productID, name+".charge_basis", "is required for percentage fines")
	}
	return nil
}
