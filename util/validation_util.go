// util/validation_util.go

package util

import (
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/aegis-authz/aegis/model"
)

// ValidationUtil validates route-author-supplied declarative configuration
// before it reaches the evaluator. Failures here are programmer errors,
// not request errors.
type ValidationUtil struct {
	validate *validator.Validate
}

func NewValidationUtil() *ValidationUtil {
	return &ValidationUtil{validate: validator.New()}
}

// ValidateConditions checks structural validity: required fields present
// and operators drawn from the closed set.
func (v *ValidationUtil) ValidateConditions(conditions []model.Condition) error {
	for i, condition := range conditions {
		if err := v.validate.Struct(condition); err != nil {
			return fmt.Errorf("condition %d is invalid: %w", i, err)
		}
		if !condition.Operator.IsValid() {
			return fmt.Errorf("condition %d uses unknown operator %q", i, condition.Operator)
		}
		if condition.Permission == "" && condition.AlternativePermission != "" {
			return fmt.Errorf("condition %d sets an alternative permission without a primary one", i)
		}
	}
	return nil
}

// ValidateStruct runs tag-based validation on any options struct.
func (v *ValidationUtil) ValidateStruct(s interface{}) error {
	return v.validate.Struct(s)
}
