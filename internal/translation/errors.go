package translation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the closed set of failures a provider may report.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindAuth        Kind = "auth"
	KindNetwork     Kind = "network"
	KindTimeout     Kind = "timeout"
	KindService     Kind = "service"
	KindMalformed   Kind = "malformed"
)

// Transient kinds are retried with backoff; the rest fail the task at once.
func (k Kind) Transient() bool {
	switch k {
	case KindRateLimited, KindNetwork, KindTimeout, KindService:
		return true
	default:
		return false
	}
}

// Error is returned by providers for every failed call.
type Error struct {
	Kind       Kind
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Provider != "" {
		b.WriteString(e.Provider)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(provider string, kind Kind, err error) *Error {
	return &Error{Kind: kind, Provider: provider, Err: err}
}

// Classify maps any error to a kind. Unclassified errors count as service
// errors so they are retried rather than silently dropped.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return KindTimeout
		}
		return KindNetwork
	}
	return KindService
}

// RetryAfter extracts a provider supplied retry hint, if any.
func RetryAfter(err error) time.Duration {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.RetryAfter
	}
	return 0
}

// kindForStatus maps an HTTP status onto the closed kind set.
func kindForStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindService
	case status >= 400:
		return KindMalformed
	default:
		return KindService
	}
}

// transportError wraps a failed round trip, keeping deadline expiry apart from
// other network failures.
func transportError(provider string, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(provider, KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newError(provider, KindTimeout, err)
	}
	return newError(provider, KindNetwork, err)
}

func parseRetryAfter(raw string) time.Duration {
	value := strings.TrimSpace(raw)
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
