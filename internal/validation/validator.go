package validation

import (
	"strings"

	"github.com/rentwing/rentwing/internal/errors"
	"github.com/rentwing/rentwing/internal/model"
)

// Validator checks write payloads before any local mutation or enqueue.
// Rejections are synchronous; nothing is persisted for an invalid write.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Required rejects an empty or whitespace-only value.
func (v *Validator) Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return errors.Validation(field, "required")
	}
	return nil
}

// MonthKey rejects month keys not of the form YYYY-MM.
func (v *Validator) MonthKey(value string) error {
	if !model.ValidMonthKey(value) {
		return errors.Validation("monthKey", "must be YYYY-MM")
	}
	return nil
}

// PositiveAmount rejects zero or negative amounts.
func (v *Validator) PositiveAmount(field string, value float64) error {
	if value <= 0 {
		return errors.Validation(field, "must be greater than zero")
	}
	return nil
}

// ValidateWing checks a wing name before add/remove.
func (v *Validator) ValidateWing(name string) error {
	return v.Required("wing", name)
}

// ValidateUnit checks the unit payload fields every unit write needs.
func (v *Validator) ValidateUnit(rec model.Record) error {
	if err := v.Required("wing", rec.Str("wing")); err != nil {
		return err
	}
	return v.Required("unitNumber", rec.Str("unitNumber"))
}

// ValidateLandlord checks a landlord payload.
func (v *Validator) ValidateLandlord(rec model.Record) error {
	return v.Required("name", rec.Str("name"))
}

// ValidateTenant checks a tenant payload.
func (v *Validator) ValidateTenant(rec model.Record) error {
	return v.Required("tenantFullName", rec.Str("tenantFullName"))
}

// ValidateRentRevision checks a rent revision payload.
func (v *Validator) ValidateRentRevision(rec model.Record) error {
	if err := v.Required("tenancyId", rec.Str("tenancyId")); err != nil {
		return err
	}
	if err := v.MonthKey(rec.Str("effectiveMonth")); err != nil {
		return errors.Validation("effectiveMonth", "must be YYYY-MM")
	}
	return v.PositiveAmount("rentAmount", rec.Num("rentAmount"))
}

// ValidateBillingRecord checks a billing record payload.
func (v *Validator) ValidateBillingRecord(rec model.Record) error {
	if err := v.MonthKey(rec.Str("monthKey")); err != nil {
		return err
	}
	return v.Required("wing", rec.Str("wing"))
}

// ValidatePayment checks a payment payload.
func (v *Validator) ValidatePayment(rec model.Record) error {
	if err := v.Required("tenancyId", rec.Str("tenancyId")); err != nil {
		return err
	}
	return v.PositiveAmount("amount", rec.Num("amount"))
}

// ValidateClause checks an agreement clause payload.
func (v *Validator) ValidateClause(rec model.Record) error {
	return v.Required("title", rec.Str("title"))
}
