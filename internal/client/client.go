// Package client is a small REST client for the prediction service.
package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"churn-predictor/internal/common"
	"churn-predictor/internal/features"
	"churn-predictor/internal/server"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

func New(base string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Accept", "application/json")
	return &Client{base: strings.TrimRight(base, "/"), rest: r}
}

// APIError is a non-2xx answer from the service.
type APIError struct {
	Status  int
	Message string `json:"error"`
	Field   string `json:"field"`
	State   string `json:"state"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("service returned %d: %s", e.Status, e.Message)
	if e.Field != "" {
		msg += fmt.Sprintf(" (field %s)", e.Field)
	}
	return msg
}

// Health is the /health body.
type Health struct {
	Status        string `json:"status"`
	State         string `json:"state"`
	Error         string `json:"error"`
	RunID         string `json:"run_id"`
	SchemaVersion string `json:"schema_version"`
}

type PredictOptions struct {
	Explain       bool
	RequestID     string
	SchemaVersion string
}

// Predict sends one employee record.
func (c *Client) Predict(ctx context.Context, fields map[string]any, opts PredictOptions) (*server.PredictResponse, error) {
	var out server.PredictResponse
	apiErr := &APIError{}

	req := c.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(fields).
		SetResult(&out).
		SetError(apiErr)
	if opts.Explain {
		req.SetQueryParam("explain", "true")
	}
	if opts.RequestID != "" {
		req.SetHeader(common.RequestIDHeader, opts.RequestID)
	}
	if opts.SchemaVersion != "" {
		req.SetHeader(common.SchemaVersionHeader, opts.SchemaVersion)
	}

	resp, err := req.Post(c.base + "/predict")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, apiErr
	}
	return &out, nil
}

// Health reports the service state. A 503 is returned as a Health value,
// not an error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).SetError(&out).Get(c.base + "/health")
	if err != nil {
		return nil, err
	}
	if resp.IsError() && resp.StatusCode() != 503 {
		return nil, &APIError{Status: resp.StatusCode(), Message: resp.String()}
	}
	return &out, nil
}

// Schema fetches the request contract of the served model.
func (c *Client) Schema(ctx context.Context) (*features.Schema, error) {
	var out features.Schema
	apiErr := &APIError{}
	resp, err := c.rest.R().SetContext(ctx).SetResult(&out).SetError(apiErr).Get(c.base + "/model/schema")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		apiErr.Status = resp.StatusCode()
		return nil, apiErr
	}
	return &out, nil
}
