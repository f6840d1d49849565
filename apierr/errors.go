// Package apierr defines the error types shared by the Twitch and Twitter
// clients, the pollers and the scheduler, plus a classifier used for log and
// metric labels.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Class groups errors by how the bot reacts to them.
type Class int

const (
	// ClassUnknown is anything not produced by this module.
	ClassUnknown Class = iota
	// ClassRateLimit is an HTTP 429 from either platform; triggers backoff.
	ClassRateLimit
	// ClassAuth is a credential or token exchange failure.
	ClassAuth
	// ClassNotFound is an unresolvable account handle.
	ClassNotFound
	// ClassNetwork is a transport failure or unexpected HTTP status on a read or write.
	ClassNetwork
	// ClassPersistence is a seen-cache load/save failure.
	ClassPersistence
)

// String returns a lowercase label suitable for metrics.
func (c Class) String() string {
	switch c {
	case ClassRateLimit:
		return "rate_limit"
	case ClassAuth:
		return "auth"
	case ClassNotFound:
		return "not_found"
	case ClassNetwork:
		return "network"
	case ClassPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// AuthError reports a failed token or credential exchange.
type AuthError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *AuthError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: auth failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: auth failed: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports a transport failure or a non-success response that is
// neither a rate limit nor a not-found.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// RateLimitError is an HTTP 429. Reset is only meaningful when HasReset is true.
type RateLimitError struct {
	Platform string
	Reset    time.Time
	HasReset bool
}

func (e *RateLimitError) Error() string {
	if e.HasReset {
		return fmt.Sprintf("%s: rate limited until %s", e.Platform, e.Reset.UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: rate limited", e.Platform)
}

// NotFoundError reports a resource (usually an account handle) that does not exist.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + ": not found" }

// PersistenceError reports a seen-cache read or write failure.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("seen cache %s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

// NewRateLimitError builds a RateLimitError from the response headers. The
// first header in resetHeaders that parses as epoch seconds wins.
func NewRateLimitError(platform string, h http.Header, resetHeaders ...string) *RateLimitError {
	e := &RateLimitError{Platform: platform}
	for _, name := range resetHeaders {
		v := h.Get(name)
		if v == "" {
			continue
		}
		secs, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		e.Reset = time.Unix(secs, 0)
		e.HasReset = true
		break
	}
	return e
}

// Classify maps err onto a Class by unwrapping.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}
	var (
		rl   *RateLimitError
		auth *AuthError
		nf   *NotFoundError
		pe   *PersistenceError
		ne   *NetworkError
	)
	switch {
	case errors.As(err, &rl):
		return ClassRateLimit
	case errors.As(err, &pe):
		return ClassPersistence
	case errors.As(err, &auth):
		return ClassAuth
	case errors.As(err, &nf):
		return ClassNotFound
	case errors.As(err, &ne):
		return ClassNetwork
	default:
		return ClassUnknown
	}
}

// IsRateLimit reports whether err wraps a RateLimitError.
func IsRateLimit(err error) bool {
	var rl *RateLimitError
	return errors.As(err, &rl)
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
