// internal/config/validator.go
//
// Thin wrapper around go-playground/validator.
//
// Context
// -------
// `Load` calls `validateStruct` right after defaults are applied.  Any
// validation error aborts startup, so the worker never runs with partial or
// malformed configuration.
//
// Custom rules
// ------------
//   • `dsn_template` – the DSN carries at most one `%s` verb, the slot for
//     the database password.

package config

import (
	"strings"

	"github.com/go-playground/validator/v10"
)

//
// validator instance (package-level singleton)
//

var v = newValidator()

func newValidator() *validator.Validate {
	val := validator.New()
	_ = val.RegisterValidation("dsn_template", func(fl validator.FieldLevel) bool {
		return strings.Count(fl.Field().String(), "%s") <= 1
	})
	return val
}

//
// public API
//

// validateStruct returns the first validation error, or nil on success.
func validateStruct(c *Config) error {
	if err := v.Struct(c); err != nil {
		return err
	}
	return v.Var(c.Database.DSN, "dsn_template")
}
