package valuation

import (
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"costledger/internal/core/apperror"
	"costledger/internal/core/types"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// validateStruct runs tag validation and converts failures into a validation AppError
// listing the offending fields.
func validateStruct(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apperror.NewValidation("invalid input").WithCause(err)
	}

	appErr := apperror.NewValidation("invalid input")
	for _, fe := range fieldErrs {
		appErr.WithDetail(fe.Field(), ruleMessage(fe))
	}
	return appErr
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return strings.TrimSpace("failed " + fe.Tag() + " " + fe.Param())
	}
}

func validateAddLayer(in AddLayerInput) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.UnitCost.IsNegative() {
		return apperror.NewValidation("unit cost must not be negative").
			WithDetail("unitCost", in.UnitCost.String())
	}
	if !types.HasMoneyPrecision(in.UnitCost) {
		return apperror.NewValidation("unit cost has more than two decimal places").
			WithDetail("unitCost", in.UnitCost.String())
	}
	if in.ExpiryDate != nil && !in.AcquisitionDate.IsZero() && in.ExpiryDate.Before(in.AcquisitionDate) {
		return apperror.NewValidation("expiry date is before acquisition date")
	}
	return nil
}
