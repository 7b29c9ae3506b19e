package graphapi

import (
	"fmt"
	"net/http"
	"strings"

	"git.home.luguber.info/inful/insightsync/internal/foundation/errors"
)

// ErrAccessTokenRequired is returned by New when no token is configured.
var ErrAccessTokenRequired = errors.AuthError("api.access_token is required").Build()

// apiError is the platform's error envelope.
type apiError struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      int    `json:"code"`
	Subcode   int    `json:"error_subcode"`
	FBTraceID string `json:"fbtrace_id"`
}

type errorEnvelope struct {
	Error *apiError `json:"error"`
}

// Rate limiting error codes: application, user, page and ads management limits.
var throttleCodes = map[int]struct{}{
	4: {}, 17: {}, 32: {}, 613: {},
	80000: {}, 80001: {}, 80002: {}, 80003: {}, 80004: {}, 80005: {}, 80006: {},
	80008: {}, 80009: {}, 80014: {},
}

const (
	codeUnknown         = 1
	codeTemporary       = 2
	codeInvalidToken    = 190
	codePermissionError = 200
)

// classify maps an HTTP status and the decoded error envelope to a classified error.
func classify(status int, body []byte, apiErr *apiError, url string) error {
	msg := http.StatusText(status)
	if apiErr != nil && apiErr.Message != "" {
		msg = apiErr.Message
	}

	var b *errors.ErrorBuilder
	code := 0
	if apiErr != nil {
		code = apiErr.Code
	}
	_, throttled := throttleCodes[code]
	switch {
	case throttled || status == http.StatusTooManyRequests:
		b = errors.ThrottleError("insights rate limit reached: " + msg)
	case code == codeInvalidToken || status == http.StatusUnauthorized:
		b = errors.AuthError("access token rejected: " + msg)
	case code == codePermissionError || status == http.StatusForbidden:
		b = errors.AuthError("permission denied: " + msg)
	case status >= 500 || code == codeUnknown || code == codeTemporary:
		b = errors.NetworkError(fmt.Sprintf("platform error (%d): %s", status, msg))
	case status == http.StatusNotFound:
		b = errors.NewError(errors.CategoryNotFound, msg)
	default:
		b = errors.ValidationError("request rejected: " + msg)
	}

	b = b.WithContext("status", status).WithContext("url", redact(url))
	if apiErr != nil {
		b = b.WithContext("code", apiErr.Code).
			WithContext("subcode", apiErr.Subcode).
			WithContext("fbtrace_id", apiErr.FBTraceID)
	} else if len(body) > 0 {
		b = b.WithContext("response", strings.ReplaceAll(string(body), "\n", " "))
	}
	return b.Build()
}

// redact strips the query string, which may carry an access token in paging links.
func redact(url string) string {
	if i := strings.IndexByte(url, '?'); i >= 0 {
		return url[:i]
	}
	return url
}
