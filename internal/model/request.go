// Package model defines shared types for the tunnel.
package model

import "net/http"

// Transport methods. GET carries the payload in headers, POST in the body.
const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// HeaderValue is either a fixed string or a producer evaluated once per send.
type HeaderValue struct {
	static  string
	compute func() string
}

// Static returns a HeaderValue that always resolves to s.
func Static(s string) HeaderValue {
	return HeaderValue{static: s}
}

// Computed returns a HeaderValue that calls fn on every send.
func Computed(fn func() string) HeaderValue {
	return HeaderValue{compute: fn}
}

// Resolve returns the value to put on the wire.
func (v HeaderValue) Resolve() string {
	if v.compute != nil {
		return v.compute()
	}
	return v.static
}

// RequestUnit is one HTTP request of a transfer: lowercase header names mapped
// to values, and the url-encoded body for POST units.
type RequestUnit struct {
	Method  string
	Headers map[string]string
	Body    *string
}

// TransferPlan is the ordered list of requests for one payload. All units but
// the last must be acknowledged before the next one is sent.
type TransferPlan []RequestUnit

// Len returns the number of requests in the plan.
func (p TransferPlan) Len() int { return len(p) }

// Pending returns every unit except the last.
func (p TransferPlan) Pending() TransferPlan {
	if len(p) == 0 {
		return nil
	}
	return p[:len(p)-1]
}

// Last returns the final unit, whose response is the transfer's result.
func (p TransferPlan) Last() RequestUnit {
	return p[len(p)-1]
}
