package client

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/kubev2v/doctrack/internal/job"
)

// Response is the outcome of a request that reached the server. Non-2xx
// statuses are not errors: callers decide based on StatusCode.
type Response struct {
	StatusCode int
	Status     string
	RequestID  string
	// Body is the decoded JSON object. It is nil when Malformed is true, and a
	// non-nil empty Record for a valid "{}" body.
	Body      job.Record
	Raw       []byte
	Malformed bool
}

func newResponse(resp *http.Response, requestID string, raw []byte) *Response {
	r := &Response{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		RequestID:  requestID,
		Raw:        raw,
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		r.Malformed = true
		return r
	}

	d := json.NewDecoder(bytes.NewReader(trimmed))
	d.UseNumber()
	body := job.Record{}
	if err := d.Decode(&body); err != nil {
		r.Malformed = true
		return r
	}
	r.Body = body
	return r
}

func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Record returns the decoded body or ErrMalformedBody.
func (r *Response) Record() (job.Record, error) {
	if r.Malformed {
		return nil, ErrMalformedBody
	}
	return r.Body, nil
}

// Message returns the server supplied error text ({detail|error|message}) or the HTTP status.
func (r *Response) Message() string {
	if !r.Malformed {
		if msg := job.String(r.Body, "detail", "error", "message"); msg != "" {
			return msg
		}
	}
	if len(bytes.TrimSpace(r.Raw)) > 0 && len(r.Raw) < 256 && r.Malformed {
		return string(bytes.TrimSpace(r.Raw))
	}
	return r.Status
}

// Retryable reports statuses worth retrying with backoff.
func (r *Response) Retryable() bool {
	switch r.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooEarly, http.StatusTooManyRequests:
		return true
	}
	return r.StatusCode >= 500
}
