package fhir

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

var supportedVersions = map[string]bool{
	"R4":    true,
	"r4":    true,
	"4.0.1": true,
}

// SupportedVersion reports whether the :version path segment names FHIR R4.
func SupportedVersion(v string) bool {
	return supportedVersions[v]
}

// RequireR4 rejects requests whose :version path parameter is not R4.
func RequireR4() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if v := c.Param("version"); !SupportedVersion(v) {
				return NewError(http.StatusNotFound, IssueTypeNotSupported,
					"FHIR version "+v+" is not supported; use R4")
			}
			return next(c)
		}
	}
}
