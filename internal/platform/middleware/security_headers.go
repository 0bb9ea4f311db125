package middleware

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// SecurityPolicy selects the hardening headers for a deployment.
type SecurityPolicy struct {
	// HSTS adds Strict-Transport-Security. Only enable it behind TLS.
	HSTS bool
	// PrivatePrefixes are path prefixes whose responses carry patient data.
	// They are marked no-store; everything else may be cached.
	PrivatePrefixes []string
}

// ClinicSecurityPolicy keeps every /api response out of caches and turns
// on HSTS outside development.
func ClinicSecurityPolicy(production bool) SecurityPolicy {
	return SecurityPolicy{HSTS: production, PrivatePrefixes: []string{"/api/"}}
}

func (p SecurityPolicy) private(path string) bool {
	for _, prefix := range p.PrivatePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

// SecurityHeaders sets the policy's headers before the handler runs, so
// error responses carry them too.
func SecurityHeaders(p SecurityPolicy) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("X-Frame-Options", "DENY")
			h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			h.Set("Referrer-Policy", "no-referrer")
			if p.HSTS {
				h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}
			if p.private(c.Request().URL.Path) {
				h.Set("Cache-Control", "no-store")
				h.Set("Pragma", "no-cache")
			}
			return next(c)
		}
	}
}
