// SPDX-License-Identifier: Apache-2.0

package discord

import (
	"fmt"
	"net/http"
	"time"
)

// Kind classifies a single webhook POST.
type Kind int

const (
	Delivered Kind = iota + 1
	RetryableFailure
	PermanentFailure
	UnexpectedResponse
)

func (k Kind) String() string {
	switch k {
	case Delivered:
		return "delivered"
	case RetryableFailure:
		return "retryable_failure"
	case PermanentFailure:
		return "permanent_failure"
	case UnexpectedResponse:
		return "unexpected_response"
	default:
		return "unknown"
	}
}

// Outcome is the result of Send. StatusCode is 0 when no response arrived.
type Outcome struct {
	Kind       Kind
	StatusCode int
	Reason     string
	Err        error
	RetryAfter time.Duration
}

func (o Outcome) Delivered() bool {
	return o.Kind == Delivered
}

func (o Outcome) Retryable() bool {
	return o.Kind == RetryableFailure
}

// Error describes a failed outcome for logs. Delivered outcomes return "".
func (o Outcome) Error() string {
	if o.Kind == Delivered {
		return ""
	}
	msg := o.Reason
	if o.StatusCode != 0 {
		msg = fmt.Sprintf("HTTP %d: %s", o.StatusCode, msg)
	}
	if o.Err != nil {
		msg += ": " + o.Err.Error()
	}
	return msg
}

const (
	reasonBadRequest   = "Bad Request - Invalid webhook data format"
	reasonUnauthorized = "Unauthorized - Invalid webhook URL or token"
	reasonNotFound     = "Not Found - Webhook URL does not exist or has been deleted"
	reasonRateLimited  = "Rate Limited - Too many requests, please try again later"
	reasonServerError  = "Discord server error - Please try again later"
	reasonNoResponse   = "No response from Discord (connection error)"
)

// classify maps a response status to an outcome. Only 204 counts as
// delivered; Discord answers every successful webhook without a body.
func classify(status int) Outcome {
	out := Outcome{StatusCode: status}
	switch {
	case status == http.StatusNoContent:
		out.Kind = Delivered
	case status == http.StatusTooManyRequests:
		out.Kind = RetryableFailure
		out.Reason = reasonRateLimited
	case status >= 500:
		out.Kind = RetryableFailure
		out.Reason = reasonServerError
	case status == http.StatusBadRequest:
		out.Kind = PermanentFailure
		out.Reason = reasonBadRequest
	case status == http.StatusUnauthorized:
		out.Kind = PermanentFailure
		out.Reason = reasonUnauthorized
	case status == http.StatusNotFound:
		out.Kind = PermanentFailure
		out.Reason = reasonNotFound
	default:
		out.Kind = UnexpectedResponse
		out.Reason = "Unexpected response from Discord"
	}
	return out
}
