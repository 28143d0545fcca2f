package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// bindJSON parses the body into v, lets prepare fill path-derived fields,
// then validates. On failure it writes the error response and returns
// ok=false: 400 for an unparsable body, 422 for a failed rule.
func bindJSON(c *fiber.Ctx, v any, prepare ...func()) (bool, error) {
	if err := c.BodyParser(v); err != nil {
		return false, errBadRequest(c, "invalid request body")
	}
	for _, p := range prepare {
		p()
	}
	if err := validate.Struct(v); err != nil {
		return false, errUnprocessable(c, describeValidation(err))
	}
	return true, nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}
