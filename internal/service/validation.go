package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// в ошибках используем имена полей из json-тегов
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// validateStruct проверяет struct-теги и переводит первую ошибку в ValidationError
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	return validationError("", err)
}

// validateVar проверяет одно значение по правилам validator, field попадает в ValidationError
func validateVar(field string, value any, rules string) error {
	err := validate.Var(value, rules)
	if err == nil {
		return nil
	}
	return validationError(field, err)
}

func validationError(field string, err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return &ValidationError{Field: field, Message: err.Error()}
	}

	fe := errs[0]
	if field == "" {
		field = fe.Field()
	}
	switch fe.Tag() {
	case "required":
		return invalid(field, "is required")
	case "min", "gte":
		return invalid(field, "must be at least %s", fe.Param())
	case "max", "lte":
		return invalid(field, "must be at most %s", fe.Param())
	case "url":
		return invalid(field, "must be a valid URL")
	case "email":
		return invalid(field, "must be a valid address")
	default:
		return invalid(field, "failed %q check", fe.Tag())
	}
}
