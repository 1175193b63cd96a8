package ingest

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Chunk is one uploaded text chunk.
type Chunk struct {
	Text string `json:"text" validate:"required"`
	Page *int   `json:"page,omitempty" validate:"omitnil,gt=0"`
}

// Request is an ingestion payload. DocID and Source are optional but must
// not be empty when present.
type Request struct {
	DocID  *string `json:"docId,omitempty" validate:"omitnil,min=1"`
	Source *string `json:"source,omitempty" validate:"omitnil,min=1"`
	Chunks []Chunk `json:"chunks" validate:"required,min=1,dive"`
}

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError reports every invalid field of a Request.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		msgs[i] = is.Message
	}
	return "invalid payload: " + strings.Join(msgs, "; ")
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks req and returns a *ValidationError listing every issue.
func Validate(v *validator.Validate, req *Request) error {
	err := v.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Issues: []Issue{{Field: "", Rule: "invalid", Message: err.Error()}}}
	}

	issues := make([]Issue, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		field := fe.Namespace()
		// Drop the root struct name.
		if _, rest, ok := strings.Cut(field, "."); ok {
			field = rest
		}
		issues = append(issues, Issue{Field: field, Rule: fe.Tag(), Message: issueMessage(field, fe)})
	}
	return &ValidationError{Issues: issues}
}

func issueMessage(field string, fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("%s must contain at least %s item(s)", field, fe.Param())
		}
		return fmt.Sprintf("%s must be at least %s character(s)", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}
