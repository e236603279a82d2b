package apiutil

import (
	"net/http"
	"strconv"
	"strings"
)

func ParseNonNegativeInt64Field(raw string, field string) (int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value < 0 {
		return 0, FieldError{Field: field, Reason: "must be 0 or greater"}
	}
	return value, nil
}

// LimitFromQuery reads an optional positive "limit" query parameter.
func LimitFromQuery(r *http.Request) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, FieldError{Field: "limit", Reason: "must be a positive integer"}
	}
	return value, nil
}

// VersionFromRequest reads the client's document version from the If-Match
// header when the body carried none. A missing value is 0.
func VersionFromRequest(r *http.Request, fromBody int64) (int64, error) {
	if fromBody != 0 {
		if fromBody < 0 {
			return 0, FieldError{Field: "version", Reason: "must be 0 or greater"}
		}
		return fromBody, nil
	}
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	return ParseNonNegativeInt64Field(raw, "version")
}

func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
