package fhir

import (
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// MIMEFHIRJSON is the media type of every FHIR response body.
const MIMEFHIRJSON = "application/fhir+json; charset=utf-8"

// JSON writes v with the FHIR JSON media type.
func JSON(c echo.Context, status int, v interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, MIMEFHIRJSON)
	return c.JSON(status, v)
}

// issueTypeForStatus picks the OperationOutcome issue code for a bare status.
func issueTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return IssueTypeInvalid
	case http.StatusUnauthorized:
		return IssueTypeLogin
	case http.StatusForbidden:
		return IssueTypeForbidden
	case http.StatusNotFound:
		return IssueTypeNotFound
	case http.StatusMethodNotAllowed, http.StatusUnsupportedMediaType, http.StatusNotAcceptable:
		return IssueTypeNotSupported
	case http.StatusConflict, http.StatusPreconditionFailed:
		return IssueTypeConflict
	case http.StatusGone:
		return IssueTypeDeleted
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return IssueTypeTransient
	default:
		if status >= 500 {
			return IssueTypeException
		}
		return IssueTypeProcessing
	}
}

// Postgres SQLSTATE codes surfaced to clients.
const (
	pgInsufficientPrivilege = "42501"
	pgUniqueViolation       = "23505"
	pgForeignKeyViolation   = "23503"
	pgCheckViolation        = "23514"
	pgInvalidText           = "22P02"
)

// FromDatabaseError maps a Postgres error onto a client facing Error. It
// returns nil when err carries no SQLSTATE the client can act on.
func FromDatabaseError(err error) *Error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case pgInsufficientPrivilege:
		return WrapError(http.StatusForbidden, IssueTypeForbidden, "access to this resource is not permitted", err)
	case pgUniqueViolation:
		return WrapError(http.StatusConflict, IssueTypeDuplicate, "a resource with the same business identifier already exists", err)
	case pgForeignKeyViolation:
		return WrapError(http.StatusBadRequest, IssueTypeInvalid, "a referenced resource does not exist", err)
	case pgCheckViolation, pgInvalidText:
		return WrapError(http.StatusBadRequest, IssueTypeValue, "resource contains an invalid value", err)
	}
	return nil
}

// ToError converts any error into an Error. Unknown errors become a 500.
func ToError(err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		return WrapError(he.Code, issueTypeForStatus(he.Code), msg, err)
	}
	if dbErr := FromDatabaseError(err); dbErr != nil {
		return dbErr
	}
	return WrapError(http.StatusInternalServerError, IssueTypeException, "internal server error", err)
}

// HTTPErrorHandler renders every error as an OperationOutcome. Server side
// failures are logged with the request id; their detail never reaches the client.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		fe := ToError(err)
		rid, _ := c.Get("request_id").(string)
		switch {
		case fe.Status >= 500:
			logger.Error().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("request failed")
		case fe.Status == http.StatusForbidden && fe.cause != nil:
			logger.Warn().Err(err).
				Str("request_id", rid).
				Str("path", c.Request().URL.Path).
				Msg("access denied")
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(fe.Status)
		} else {
			err = JSON(c, fe.Status, fe.Outcome)
		}
		if err != nil {
			logger.Error().Err(err).Str("request_id", rid).Msg("write error response")
		}
	}
}
