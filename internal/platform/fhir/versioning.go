package fhir

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// SetVersionHeaders sets ETag and Last-Modified headers on the response.
func SetVersionHeaders(c echo.Context, versionID int, lastModified time.Time) {
	c.Response().Header().Set("ETag", FormatETag(versionID))
	if !lastModified.IsZero() {
		c.Response().Header().Set("Last-Modified", lastModified.UTC().Format(http.TimeFormat))
	}
}

// IfMatchVersion reads the If-Match header. It returns the expected version
// and true when the client asked for a conditional update. A wildcard is
// treated as unconditional.
func IfMatchVersion(c echo.Context) (int, bool, error) {
	ifMatch := strings.TrimSpace(c.Request().Header.Get("If-Match"))
	if ifMatch == "" || ifMatch == "*" {
		return 0, false, nil
	}

	v, err := ParseETag(ifMatch)
	if err != nil {
		return 0, false, NewError(http.StatusBadRequest, IssueTypeInvalid, "invalid If-Match header: "+err.Error())
	}
	return v, true, nil
}

// ParseETag extracts the version number from an ETag value like W/"3" or "3".
func ParseETag(etag string) (int, error) {
	etag = strings.TrimSpace(etag)
	// Remove weak indicator
	etag = strings.TrimPrefix(etag, "W/")
	// Remove quotes
	etag = strings.Trim(etag, `"`)

	v, err := strconv.Atoi(etag)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("ETag must contain a positive numeric version: %s", etag)
	}
	return v, nil
}

// FormatETag creates a weak ETag from a version ID.
func FormatETag(versionID int) string {
	return fmt.Sprintf(`W/"%d"`, versionID)
}

// CheckIfNoneMatch checks If-None-Match for conditional reads.
// Returns true if any of the client's versions match (304 Not Modified should be returned).
func CheckIfNoneMatch(c echo.Context, currentVersion int) bool {
	ifNoneMatch := c.Request().Header.Get("If-None-Match")
	if ifNoneMatch == "" {
		return false
	}

	for _, tag := range strings.Split(ifNoneMatch, ",") {
		if strings.TrimSpace(tag) == "*" {
			return true
		}
		if v, err := ParseETag(tag); err == nil && v == currentVersion {
			return true
		}
	}
	return false
}
