package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context. Database queries
// and Gateway calls run under that context and are cancelled with it; a
// handler failing because the deadline passed answers 504 with a timeout
// issue.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				var fe *fhir.Error
				if !errors.As(err, &fe) || fe.Status >= 500 {
					return fhir.WrapError(http.StatusGatewayTimeout, fhir.IssueTypeTimeout,
						"request exceeded the server time limit", err)
				}
			}
			return err
		}
	}
}
