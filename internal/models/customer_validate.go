package models

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var customerValidator = newCustomerValidator()

func newCustomerValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// FieldError describes a single invalid customer field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// Validate trims the customer fields and reports every required field that is
// empty. A nil slice means the info may be submitted; field contents are not
// checked beyond presence.
func (c *CustomerInfo) Validate() []FieldError {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	c.City = strings.TrimSpace(c.City)
	c.State = strings.TrimSpace(c.State)
	c.ZipCode = strings.TrimSpace(c.ZipCode)
	c.Country = strings.TrimSpace(c.Country)

	err := customerValidator.Struct(c)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return []FieldError{{Field: "customerInfo", Reason: "invalid"}}
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, fieldError := range validationErrors {
		reason := "invalid"
		if fieldError.Tag() == "required" {
			reason = "required"
		}
		fields = append(fields, FieldError{Field: fieldError.Field(), Reason: reason})
	}
	return fields
}
