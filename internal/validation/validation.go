// Package validation checks request payloads at the API boundary and
// collects every field failure instead of stopping at the first.
package validation

import (
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/hyperengineering/somnus/internal/types"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// AddAll appends every error in errs.
func (c *Collector) AddAll(errs []ValidationError) {
	c.errors = append(c.errors, errs...)
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report fields by their JSON name.
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

// Struct validates v against its validate tags.
func Struct(v any) []ValidationError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	fieldErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Field: "body", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{Field: fe.Field(), Message: message(fe)})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "datetime":
		return "must be a date formatted YYYY-MM-DD"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "max":
		return fmt.Sprintf("exceeds maximum length of %s characters", fe.Param())
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// Dream validates a dream entry.
func Dream(d types.Dream) []ValidationError {
	var c Collector
	c.AddAll(Struct(d))
	c.Add(ValidateUTF8("content", d.Content))
	c.Add(ValidateNoNullBytes("content", d.Content))
	c.Add(ValidateFinite("intensity", d.Intensity))
	return c.Errors()
}

// CheckIn validates a daily check-in.
func CheckIn(ci types.CheckIn) []ValidationError {
	var c Collector
	c.AddAll(Struct(ci))
	c.Add(ValidateNoNullBytes("note", ci.Note))
	c.Add(ValidateFinite("condition", ci.Condition))
	c.Add(ValidateFinite("stress_level", ci.StressLevel))
	c.Add(ValidateFinite("sleep_duration_minutes", ci.SleepDurationMinutes))
	return c.Errors()
}

// SleepSummary validates a sleep summary before it reaches the merge logic.
func SleepSummary(s types.SleepSummary) []ValidationError {
	var c Collector
	c.AddAll(Struct(s))
	c.Add(ValidateFinite("total_sleep_minutes", s.TotalSleepMinutes))
	c.Add(ValidateFinite("sleep_quality_score", s.SleepQualityScore))
	c.Add(ValidateFinite("rem_minutes", s.REMMinutes))
	c.Add(ValidateFinite("deep_minutes", s.DeepMinutes))
	c.Add(ValidateFinite("hrv_ms", s.HRVMs))
	return c.Errors()
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ValidateULID returns an error if the value is not a valid ULID format.
// ULIDs are 26 characters using Crockford Base32 (excludes I, L, O, U).
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"
	for _, r := range strings.ToUpper(value) {
		if !strings.ContainsRune(crockfordBase32, r) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (invalid character)",
			}
		}
	}
	return nil
}

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateDate returns an error unless value is a YYYY-MM-DD calendar day.
func ValidateDate(field, value string) *ValidationError {
	if _, err := time.Parse(types.DateLayout, value); err != nil {
		return &ValidationError{
			Field:   field,
			Message: "must be a date formatted YYYY-MM-DD",
		}
	}
	return nil
}

// ValidateEnum returns an error if the value is not in the allowed list.
func ValidateEnum(field, value string, allowed []string) *ValidationError {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")),
	}
}

// ValidateRange returns an error if the value is outside [min, max].
func ValidateRange(field string, value, min, max float64) *ValidationError {
	if value < min || value > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("must be between %.1f and %.1f", min, max),
		}
	}
	return nil
}

// ValidateFinite returns an error if an optional number is NaN or infinite.
func ValidateFinite(field string, value *float64) *ValidationError {
	if value != nil && (math.IsNaN(*value) || math.IsInf(*value, 0)) {
		return &ValidationError{
			Field:   field,
			Message: "must be a finite number",
		}
	}
	return nil
}
