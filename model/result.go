package model

import (
	"encoding/json"
	"time"
)

// Error codes carried alongside a failed Result so callers can pick a status
// without string matching.
const (
	CodeUpstream      = "upstream"
	CodeMisconfigured = "misconfigured"
	CodeAggregation   = "aggregation"
)

type RateLimitInfo struct {
	Remaining int       `json:"remaining"`
	ResetTime time.Time `json:"resetTime"`
}

// Result is the success/error envelope used between every layer instead of
// returning Go errors across provider, aggregator and route boundaries.
type Result[T any] struct {
	Success   bool           `json:"success"`
	Data      T              `json:"data"`
	Error     string         `json:"error,omitempty"`
	RateLimit *RateLimitInfo `json:"rateLimit,omitempty"`
	Code      string         `json:"-"`
}

// MarshalJSON always writes data on success, even when it is empty, and
// leaves it out of failures.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	type wire struct {
		Success   bool           `json:"success"`
		Data      *T             `json:"data,omitempty"`
		Error     string         `json:"error,omitempty"`
		RateLimit *RateLimitInfo `json:"rateLimit,omitempty"`
	}
	w := wire{Success: r.Success, Error: r.Error, RateLimit: r.RateLimit}
	if r.Success {
		w.Data = &r.Data
	}
	return json.Marshal(w)
}

func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

func Fail[T any](msg string) Result[T] {
	return Result[T]{Success: false, Error: msg, Code: CodeUpstream}
}

func FailWithCode[T any](code, msg string) Result[T] {
	return Result[T]{Success: false, Error: msg, Code: code}
}
