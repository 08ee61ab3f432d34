package executor

import (
	"errors"
	"net"
	"net/http"
	"net/url"
)

// Class is the retry class of a failed call
type Class int

const (
	// ClassPermanent errors are not retried
	ClassPermanent Class = iota
	// ClassRateLimited errors are retried after a fixed cooldown
	ClassRateLimited
	// ClassTransient errors are retried with exponential backoff
	ClassTransient
)

func (c Class) String() string {
	switch c {
	case ClassRateLimited:
		return "rate_limited"
	case ClassTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// StatusCoder is implemented by errors that carry an HTTP status code
type StatusCoder interface {
	HTTPStatus() int
}

// Classify maps a call error to its retry class: 429 is rate limited, 408, 5xx
// and network timeouts are transient, anything else is permanent.
func Classify(err error) Class {
	if err == nil {
		return ClassPermanent
	}

	var coder StatusCoder
	if errors.As(err, &coder) {
		status := coder.HTTPStatus()
		switch {
		case status == http.StatusTooManyRequests:
			return ClassRateLimited
		case status == http.StatusRequestTimeout, status >= http.StatusInternalServerError:
			return ClassTransient
		default:
			return ClassPermanent
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassTransient
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ClassTransient
	}

	return ClassPermanent
}
