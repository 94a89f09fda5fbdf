package api

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func init() {
	// Report on 'TagName' json tag instead of struct name
	// Look at documentation of 'RegisterTagNameFunc' for more details
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		// skip if tag key says it should be ignored
		if name == "-" {
			return ""
		}
		return name
	})
}

// checkRequest validates an outgoing payload before it hits the wire, so
// obviously broken input fails fast with a readable message instead of a
// round trip.
func checkRequest(payload any) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}

	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	// User friendly messages based on the validation tag
	fields := make([]string, 0, len(errs))
	for _, fieldError := range errs {
		var message string
		switch fieldError.Tag() {
		case "required":
			message = "is required"
		case "min":
			message = fmt.Sprintf("is too short (minimum %s)", fieldError.Param())
		case "max":
			message = fmt.Sprintf("is too long (maximum %s)", fieldError.Param())
		case "email":
			message = "is not a valid email address"
		default:
			message = "is invalid"
		}

		fields = append(fields, fieldError.Field()+" "+message)
	}
	sort.Strings(fields)

	return fmt.Errorf("invalid request: %s", strings.Join(fields, ", "))
}
