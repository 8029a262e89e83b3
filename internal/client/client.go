package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kubev2v/doctrack/internal/job"
	"github.com/kubev2v/doctrack/pkg/requestid"
	"go.uber.org/zap"
)

const (
	opStatus       = "status"
	opCancel       = "cancel"
	opRetry        = "retry"
	opList         = "list"
	opUpload       = "upload"
	opCapabilities = "capabilities"
)

var validate = validator.New()

// CredentialSource provides the bearer credential attached to authenticated requests.
type CredentialSource interface {
	Token(ctx context.Context) (string, error)
}

type Option func(c *Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func WithCredentials(creds CredentialSource) Option {
	return func(c *Client) {
		c.creds = creds
	}
}

// WithUnauthorizedHandler registers fn to be called whenever a request is
// rejected with 401 or cannot be authenticated at all.
func WithUnauthorizedHandler(fn func(ctx context.Context)) Option {
	return func(c *Client) {
		c.onUnauthorized = fn
	}
}

// Client is a typed wrapper around the job service HTTP API.
type Client struct {
	server         string
	endpoints      Endpoints
	httpClient     *http.Client
	creds          CredentialSource
	onUnauthorized func(ctx context.Context)
}

// New returns a new job service client from the given config.
func New(config *Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	httpClient, err := NewHTTPClientFromConfig(config)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP client %w", err)
	}

	c := &Client{
		server:     strings.TrimRight(config.Service.Server, "/"),
		endpoints:  config.Endpoints.withDefaults(),
		httpClient: httpClient,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// NewHTTPClientFromConfig returns a new HTTP Client from the given config.
func NewHTTPClientFromConfig(config *Config) (*http.Client, error) {
	httpClient := &http.Client{
		Timeout: config.Timeout.Duration,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     false,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
	return httpClient, nil
}

// GetStatus fetches the current snapshot of a job.
func (c *Client) GetStatus(ctx context.Context, jobID string) (*Response, error) {
	return c.do(ctx, opStatus, http.MethodGet, c.jobPath(c.endpoints.Status, jobID), nil, nil, "", true)
}

// CancelJob asks the service to cancel a job. The service treats it as idempotent.
func (c *Client) CancelJob(ctx context.Context, jobID string) (*Response, error) {
	return c.do(ctx, opCancel, http.MethodPost, c.jobPath(c.endpoints.Cancel, jobID), nil, nil, "", true)
}

// RetryJob re-enqueues a failed job.
func (c *Client) RetryJob(ctx context.Context, jobID string) (*Response, error) {
	return c.do(ctx, opRetry, http.MethodPost, c.jobPath(c.endpoints.Retry, jobID), nil, nil, "", true)
}

// ListParams filters a job listing.
type ListParams struct {
	JobType job.Type   `validate:"omitempty,oneof=OCR TRANSCRIPTION"`
	Status  job.Status `validate:"omitempty,oneof=QUEUED PROCESSING COMPLETED FAILED CANCELLED"`
	Limit   int        `validate:"gte=0,lte=100"`
	Offset  int        `validate:"gte=0"`
}

func (p ListParams) query() url.Values {
	q := url.Values{}
	if p.JobType != job.TypeUnknown {
		q.Set("jobType", p.JobType.String())
	}
	if p.Status != job.StatusUnknown {
		q.Set("status", p.Status.String())
	}
	if p.Limit > 0 {
		q.Set("limit", strconv.Itoa(p.Limit))
	}
	if p.Offset > 0 {
		q.Set("offset", strconv.Itoa(p.Offset))
	}
	return q
}

// ListResult carries the raw response and, when it was a valid 2xx listing, the resolved page.
type ListResult struct {
	Response *Response
	Page     job.Page
}

func (c *Client) ListJobs(ctx context.Context, params ListParams) (*ListResult, error) {
	if err := validate.Struct(params); err != nil {
		return nil, fmt.Errorf("invalid list parameters: %w", err)
	}

	resp, err := c.do(ctx, opList, http.MethodGet, c.endpoints.List, params.query(), nil, "", true)
	if err != nil {
		return nil, err
	}

	result := &ListResult{Response: resp, Page: job.Page{Jobs: []job.Job{}, NextOffset: params.Offset}}
	if resp.OK() && !resp.Malformed {
		result.Page = job.ResolvePage(resp.Body, params.Offset)
	}
	return result, nil
}

// UploadRequest is a file submitted for processing.
type UploadRequest struct {
	Filename string
	Content  io.Reader
	Type     job.Type
}

// UploadResult carries the raw response and the enqueued job id on success.
type UploadResult struct {
	Response *Response
	JobID    string
}

func (c *Client) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if !req.Type.Valid() {
		return nil, fmt.Errorf("invalid job type %q", req.Type)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", req.Filename)
	if err != nil {
		return nil, fmt.Errorf("creating form file: %w", err)
	}
	if _, err := io.Copy(part, req.Content); err != nil {
		return nil, fmt.Errorf("copying file into multipart: %w", err)
	}
	if err := mw.WriteField("jobType", req.Type.String()); err != nil {
		return nil, fmt.Errorf("writing job type: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("closing multipart writer: %w", err)
	}

	resp, err := c.do(ctx, opUpload, http.MethodPost, c.endpoints.Upload, nil, &buf, mw.FormDataContentType(), true)
	if err != nil {
		return nil, err
	}

	result := &UploadResult{Response: resp}
	if resp.OK() && !resp.Malformed {
		result.JobID = job.ResolveID(resp.Body)
	}
	return result, nil
}

// Capabilities probes optional server features. The probe is unauthenticated
// and never fails: any problem yields an empty capability set.
func (c *Client) Capabilities(ctx context.Context) Capabilities {
	resp, err := c.do(ctx, opCapabilities, http.MethodGet, c.endpoints.Capabilities, nil, nil, "", false)
	if err != nil {
		zap.S().Named("client").Debugw("capability probe failed", "error", err)
		return Capabilities{}
	}
	if !resp.OK() || resp.Malformed {
		zap.S().Named("client").Debugw("capability probe unavailable", "status", resp.StatusCode)
		return Capabilities{}
	}
	return parseCapabilities(resp.Body)
}

func (c *Client) jobPath(tmpl, jobID string) string {
	return strings.ReplaceAll(tmpl, "{id}", url.PathEscape(jobID))
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body io.Reader, contentType string, authenticated bool) (*Response, error) {
	u := c.server + path
	if len(query) > 0 {
		u = u + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if authenticated {
		token, err := c.token(ctx)
		if err != nil {
			c.unauthorized(ctx)
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	reqID := requestid.Set(req)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: op, URL: u, Err: err}
	}
	defer func() {
		_ = httpResp.Body.Close()
	}()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, &TransportError{Op: op, URL: u, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	resp := newResponse(httpResp, reqID, raw)
	zap.S().Named("client").Debugw("request completed", "op", op, "status", resp.StatusCode, "request_id", reqID)

	if resp.StatusCode == http.StatusUnauthorized {
		c.unauthorized(ctx)
	}
	return resp, nil
}

func (c *Client) token(ctx context.Context) (string, error) {
	if c.creds == nil {
		return "", ErrNoCredentials
	}
	token, err := c.creds.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCredentials, err)
	}
	if token == "" {
		return "", ErrNoCredentials
	}
	return token, nil
}

func (c *Client) unauthorized(ctx context.Context) {
	if c.onUnauthorized != nil {
		c.onUnauthorized(ctx)
	}
}
