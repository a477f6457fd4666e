package api

import (
	"errors"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"net/http"
	"os"
	"storefront-service/internal/apperror"
	"strings"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

// RequestValidator plugs go-playground/validator into echo's c.Validate.
type RequestValidator struct {
	validator *validator.Validate
}

func NewRequestValidator() *RequestValidator {
	return &RequestValidator{validator: validator.New()}
}

func (v *RequestValidator) Validate(i interface{}) error {
	err := v.validator.Struct(i)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, fe.Field())
		}
		return apperror.Validationf("Invalid or missing fields: %s", strings.Join(fields, ", "))
	}
	return apperror.Validation("Invalid request payload")
}

func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation, apperror.KindAuthenticity:
		return http.StatusBadRequest
	case apperror.KindUnauthorized:
		return http.StatusUnauthorized
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindUpstream:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func errorResponse(c echo.Context, err error) error {
	status := statusFor(apperror.KindOf(err))
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	}
	return c.JSON(status, map[string]interface{}{"success": false, "error": apperror.MessageOf(err)})
}

// bindAndValidate binds the body into req and runs the registered validator.
func bindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return apperror.Validation("Invalid request payload")
	}
	return c.Validate(req)
}
