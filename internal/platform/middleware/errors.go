package middleware

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

// DomainErrors maps an *apperr.Error that a handler returned unconverted to
// its HTTP status and message. Other errors pass through unchanged.
func DomainErrors() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			var de *apperr.Error
			if err != nil && errors.As(err, &de) {
				return apperr.HTTP(err)
			}
			return err
		}
	}
}
