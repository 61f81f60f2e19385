package problems

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Kind is the stable identifier of a gateway failure class.
type Kind string

const (
	MissingTenant       Kind = "missing_tenant"
	UnknownTenant       Kind = "unknown_tenant"
	InactiveTenant      Kind = "inactive_tenant"
	InvalidState        Kind = "invalid_state"
	TokenExchangeFailed Kind = "token_exchange_failed"
	CredentialRevoked   Kind = "credential_revoked"
	RateLimited         Kind = "rate_limited"
	UpstreamUnavailable Kind = "upstream_unavailable"
	NotFound            Kind = "not_found"
	InvalidRequest      Kind = "invalid_request"
	Internal            Kind = "internal"

	// Caller authentication, only raised when bearer auth is configured.
	Unauthenticated Kind = "unauthenticated"
	Forbidden       Kind = "forbidden"
)

var titles = map[Kind]string{
	MissingTenant:       "Missing merchant identifier",
	UnknownTenant:       "Unknown merchant",
	InactiveTenant:      "Merchant not authorized",
	InvalidState:        "Invalid OAuth state",
	TokenExchangeFailed: "Token exchange failed",
	CredentialRevoked:   "Credential revoked",
	RateLimited:         "Rate limited by upstream",
	UpstreamUnavailable: "Upstream unavailable",
	NotFound:            "Not found",
	InvalidRequest:      "Invalid request",
	Internal:            "Internal error",
	Unauthenticated:     "Authentication required",
	Forbidden:           "Forbidden",
}

// Status maps a kind to the HTTP status served to callers.
func (k Kind) Status() int {
	switch k {
	case MissingTenant, InvalidState, InvalidRequest:
		return http.StatusBadRequest
	case UnknownTenant, NotFound:
		return http.StatusNotFound
	case InactiveTenant, Forbidden:
		return http.StatusForbidden
	case CredentialRevoked, Unauthenticated:
		return http.StatusUnauthorized
	case TokenExchangeFailed:
		return http.StatusBadGateway
	case RateLimited:
		return http.StatusTooManyRequests
	case UpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may retry the same request unchanged.
func (k Kind) Retryable() bool { return k == RateLimited || k == UpstreamUnavailable }

// Error is a classified gateway failure.
type Error struct {
	Kind       Kind
	Detail     string
	RetryAfter time.Duration // set for RateLimited when upstream advertised one
	Err        error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, problems.New(k, ""))
// works as a kind check.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return Internal
}

// Write renders err as application/problem+json. Unclassified errors are
// served as Internal without leaking their message.
func Write(w http.ResponseWriter, err error) {
	var pe *Error
	if !errors.As(err, &pe) {
		pe = &Error{Kind: Internal}
	}
	status := pe.Kind.Status()
	body := map[string]any{
		"type":      Type(strings.ReplaceAll(string(pe.Kind), "_", "-")),
		"title":     titles[pe.Kind],
		"status":    status,
		"code":      string(pe.Kind),
		"retryable": pe.Kind.Retryable(),
	}
	if pe.Kind != Internal && pe.Detail != "" {
		body["detail"] = pe.Detail
	}
	if pe.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(pe.RetryAfter.Seconds())))
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
