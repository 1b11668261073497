package aggregator

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// ErrInvalidSignature marks a webhook whose signature check failed.
// Such payloads are poison: dropped, never requeued.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// VendorError classifies aggregator call failures. RetryAfter is set
// when the vendor asked for a send pause.
type VendorError struct {
	StatusCode int
	Code       string
	Message    string
	Transient  bool
	RetryAfter time.Duration
	Cause      error
}

func (e *VendorError) Error() string {
	if e == nil {
		return "<nil>"
	}

	parts := make([]string, 0, 4)
	parts = append(parts, "aggregator error")

	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if code := strings.TrimSpace(e.Code); code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", code))
	}
	if msg := strings.TrimSpace(e.Message); msg != "" {
		parts = append(parts, msg)
	}
	if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, ": ")
}

func (e *VendorError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// IsTransient reports whether an error should be retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.Transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	return false
}

// RetryAfter extracts the vendor-requested pause from a rate-limit
// error, or zero.
func RetryAfter(err error) time.Duration {
	var vendorErr *VendorError
	if errors.As(err, &vendorErr) {
		return vendorErr.RetryAfter
	}
	return 0
}

// IsRateLimited reports whether the vendor throttled the call.
func IsRateLimited(err error) bool {
	var vendorErr *VendorError
	return errors.As(err, &vendorErr) && vendorErr.RetryAfter > 0
}
