package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/nlcore/zib-fhir/internal/platform/fhir"
)

// Logger writes one access log line per request. Handler errors have not
// been rendered yet when the line is written, so their status is derived
// the way the error handler will derive it.
func Logger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()

			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = fhir.ToError(err).Status
			}

			var evt *zerolog.Event
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case err != nil:
				evt = logger.Info().Str("error", err.Error())
			default:
				evt = logger.Info()
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("route", c.Path()).
				Int("status", status).
				Dur("latency", time.Since(start)).
				Str("remote_ip", c.RealIP())
			if tenant, ok := c.Get("tenant_id").(string); ok {
				evt = evt.Str("tenant_id", tenant)
			}
			if user, ok := c.Get("user_id").(string); ok {
				evt = evt.Str("user_id", user)
			}
			evt.Msg("request")

			return err
		}
	}
}
