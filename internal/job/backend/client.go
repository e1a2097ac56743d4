// Package backend talks to the remote script generation backend over HTTP.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/google/uuid"
)

const (
	generatePath = "/api/generate-script"
	statusPath   = "/api/status/"

	// RequestIDHeader carries a per-request correlation id
	RequestIDHeader = "X-Request-ID"

	maxErrorBody = 4 << 10
)

// ErrEmptyHandle is returned when a status is requested without a job id
var ErrEmptyHandle = errors.New("job handle has no id")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// Config holds backend client configuration
type Config struct {
	BaseURL string
	// Timeout bounds each request. Zero leaves the transport default.
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client submits jobs and fetches their status
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new backend client
func NewClient(cfg *Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid backend url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid backend url %q: scheme must be http or https", cfg.BaseURL)
	}
	if base.Host == "" {
		return nil, fmt.Errorf("invalid backend url %q: missing host", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		logger:  logger.With(slog.String("component", "backend_client")),
	}, nil
}

// Submit creates a backend job. Invalid requests fail with a
// *domain.ValidationError before any network call; everything else that
// keeps the job from being created fails with a *domain.SubmissionError.
// Submit never retries.
func (c *Client) Submit(ctx context.Context, req domain.JobRequest) (domain.JobHandle, error) {
	if err := req.Validate(); err != nil {
		return domain.JobHandle{}, err
	}

	body, err := json.Marshal(newGenerateRequest(req))
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(generatePath), bytes.NewReader(body))
	if err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	requestID := setRequestID(httpReq)

	c.logger.Info("Submitting generation job",
		slog.String("request_id", requestID),
		slog.String("creator_handle", req.CreatorHandle),
	)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Error("Backend unreachable",
			slog.String("request_id", requestID),
			slog.Any("error", err),
		)
		return domain.JobHandle{}, &domain.SubmissionError{Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		statusErr := readStatusError(resp)
		c.logger.Error("Backend rejected job",
			slog.String("request_id", requestID),
			slog.Int("status", resp.StatusCode),
			slog.String("body", statusErr.Body),
		)
		return domain.JobHandle{}, &domain.SubmissionError{StatusCode: resp.StatusCode, Err: statusErr}
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.JobHandle{}, &domain.SubmissionError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("failed to decode response: %w", err),
		}
	}
	if strings.TrimSpace(out.TaskID) == "" {
		return domain.JobHandle{}, &domain.SubmissionError{
			StatusCode: resp.StatusCode,
			Err:        errors.New("response has no task_id"),
		}
	}

	c.logger.Info("Generation job accepted",
		slog.String("request_id", requestID),
		slog.String("job_id", out.TaskID),
	)

	return domain.JobHandle{ID: out.TaskID}, nil
}

// FetchStatus performs one status poll. Transport errors, non-2xx responses
// and undecodable bodies are all returned as errors; the caller decides
// whether to retry.
func (c *Client) FetchStatus(ctx context.Context, handle domain.JobHandle) (domain.JobStatus, error) {
	if handle.ID == "" {
		return domain.JobStatus{}, ErrEmptyHandle
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.statusEndpoint(handle.ID), nil)
	if err != nil {
		return domain.JobStatus{}, err
	}
	httpReq.Header.Set("Accept", "application/json")
	requestID := setRequestID(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.JobStatus{}, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if !isSuccess(resp.StatusCode) {
		return domain.JobStatus{}, readStatusError(resp)
	}

	var out statusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.JobStatus{}, fmt.Errorf("failed to decode status: %w", err)
	}

	c.logger.Debug("Job status fetched",
		slog.String("request_id", requestID),
		slog.String("job_id", handle.ID),
		slog.String("state", out.State),
	)

	return out.toJobStatus(), nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	u.RawPath = ""
	return u.String()
}

// statusEndpoint escapes the job id as a single path segment
func (c *Client) statusEndpoint(jobID string) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + statusPath + jobID
	u.RawPath = strings.TrimRight(c.baseURL.EscapedPath(), "/") + statusPath + url.PathEscape(jobID)
	return u.String()
}

func setRequestID(req *http.Request) string {
	id := uuid.New().String()
	req.Header.Set(RequestIDHeader, id)
	return id
}

func isSuccess(code int) bool {
	return code >= 200 && code < 300
}

// readStatusError drains a bounded prefix of the body. A JSON {"error": ...}
// body is reduced to its message.
func readStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	body := strings.TrimSpace(string(raw))

	var er errorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		body = er.Error
	}
	return &StatusError{StatusCode: resp.StatusCode, Body: body}
}
