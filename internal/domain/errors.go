package domain

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ConfigurationError reports missing or invalid process configuration. It is fatal at startup.
type ConfigurationError struct {
	Missing []string
	Msg     string
	Err     error
}

func (e ConfigurationError) Error() string {
	switch {
	case len(e.Missing) > 0:
		return fmt.Sprintf("missing required env: %s", strings.Join(e.Missing, ", "))
	case e.Msg != "":
		return e.Msg
	default:
		return "invalid configuration"
	}
}

func (e ConfigurationError) Unwrap() error { return e.Err }

type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Field != "" {
		return fmt.Sprintf("%s is required", e.Field)
	}
	return "validation error"
}

// AuthenticationError means no usable session could be obtained: the credential exchange
// returned no token, or a call was rejected again right after a forced re-sign-in.
type AuthenticationError struct {
	Msg string
	Err error
}

func (e AuthenticationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "onay: authentication failed"
}

func (e AuthenticationError) Unwrap() error { return e.Err }

type NoPaymentMethodError struct {
	Msg string
}

func (e NoPaymentMethodError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return "onay: no cards found for account"
}

// TransientNetworkError is a transport failure or a 5xx reply from the upstream.
type TransientNetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e TransientNetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("onay %s: upstream status %d", e.Op, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("onay %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("onay %s: network error", e.Op)
}

func (e TransientNetworkError) Unwrap() error { return e.Err }

// UpstreamError is a non-retryable failure reported by the ticketing backend: a 4xx
// status, an unsuccessful envelope, or a body that does not match the expected schema.
//
// Body holds the (truncated) upstream reply for verbose server-side logs only; it is
// never part of Error().
type UpstreamError struct {
	Op         string
	StatusCode int
	Msg        string
	Body       []byte
	Err        error
}

func (e UpstreamError) Error() string {
	switch {
	case e.Msg != "":
		return fmt.Sprintf("onay %s: %s", e.Op, e.Msg)
	case e.StatusCode != 0:
		return fmt.Sprintf("onay %s: upstream status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("onay %s: upstream error", e.Op)
	}
}

func (e UpstreamError) Unwrap() error { return e.Err }

// AuthFailure reports whether the upstream rejected the session credential.
func (e UpstreamError) AuthFailure() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

func IsConfiguration(err error) bool {
	var target ConfigurationError
	return errors.As(err, &target)
}

func IsValidation(err error) bool {
	var target ValidationError
	return errors.As(err, &target)
}

func IsAuthentication(err error) bool {
	var target AuthenticationError
	return errors.As(err, &target)
}

func IsNoPaymentMethod(err error) bool {
	var target NoPaymentMethodError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target TransientNetworkError
	return errors.As(err, &target)
}

func IsUpstream(err error) bool {
	var target UpstreamError
	return errors.As(err, &target)
}

// IsAuthFailure reports whether err carries an upstream 401/403.
func IsAuthFailure(err error) bool {
	var target UpstreamError
	return errors.As(err, &target) && target.AuthFailure()
}
