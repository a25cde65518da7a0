package main

import "github.com/vinodismyname/xlcore/pkg/mcperr"

// request is one line of the listen-stdio protocol (spec.md §6): an
// operation name, the workbook handle it targets (empty for "open"), and
// its op-specific parameters.
type request struct {
	Op     string         `json:"op"`
	Handle string         `json:"handle,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// responseError mirrors pkg/mcperr.Error's catalog shape on the wire.
type responseError struct {
	Code      string   `json:"code"`
	Detail    string   `json:"detail,omitempty"`
	Retryable bool     `json:"retryable"`
	NextSteps []string `json:"next_steps,omitempty"`
}

// response is one line written back per request line read.
type response struct {
	OK     bool           `json:"ok"`
	Result any            `json:"result,omitempty"`
	Error  *responseError `json:"error,omitempty"`
}

func errorResponse(err error) response {
	if mcErr, ok := err.(*mcperr.Error); ok {
		return response{
			OK: false,
			Error: &responseError{
				Code:      string(mcErr.Code),
				Detail:    mcErr.Detail,
				Retryable: mcErr.Retryable(),
				NextSteps: mcErr.NextSteps(),
			},
		}
	}
	return response{OK: false, Error: &responseError{Code: "INTERNAL", Detail: err.Error()}}
}
