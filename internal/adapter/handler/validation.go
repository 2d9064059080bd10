package handler

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once

	requestIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		_ = validate.RegisterValidation("request_id", func(fl validator.FieldLevel) bool {
			return requestIDRegex.MatchString(fl.Field().String())
		})
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// validationMessage flattens validator errors into one line.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}

	parts := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", e.Field()))
		case "gt":
			parts = append(parts, fmt.Sprintf("%s must be greater than %s", e.Field(), e.Param()))
		case "request_id":
			parts = append(parts, fmt.Sprintf("%s must be 1-128 characters of letters, digits, '.', '_', ':' or '-'", e.Field()))
		default:
			parts = append(parts, fmt.Sprintf("%s failed %s validation", e.Field(), e.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}
