package schema

import "strings"

// ValidationResult aggregates the outcome of a validation pass.
// Construction starts valid; each detected problem appends an error and
// flips validity to false. Errors are ordered and never deduplicated so a
// caller can report every problem in one round-trip.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Errors  []string `json:"errors,omitempty"`
}

// NewValidationResult returns a result with no errors.
func NewValidationResult() *ValidationResult {
	return &ValidationResult{IsValid: true}
}

// AddError appends an error message and marks the result invalid.
func (r *ValidationResult) AddError(msg string) {
	r.IsValid = false
	r.Errors = append(r.Errors, msg)
}

// Merge appends all errors from other into this result.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for _, e := range other.Errors {
		r.AddError(e)
	}
}

func (r *ValidationResult) String() string {
	if r.IsValid {
		return "validation passed"
	}
	return "validation failed: " + strings.Join(r.Errors, "; ")
}

// ToError converts the result to a LoomError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.IsValid {
		return nil
	}
	msg := r.Errors[0]
	if len(r.Errors) > 1 {
		msg = r.String()
	}
	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count": len(r.Errors),
			"errors":      r.Errors,
		})
}
