package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	apierrors "github.com/zfogg/vidlayer/internal/errors"
)

const defaultTimeout = 30 * time.Second

type apiClient struct {
	http *resty.Client
}

func newAPIClient(baseURL, token string, timeout time.Duration) *apiClient {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("User-Agent", "vidlayer-cli/0.1.0").
		SetHeader("Accept", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &apiClient{http: c}
}

// do sends a JSON request and decodes a 2xx body into out. Error bodies are
// decoded into *apierrors.APIError.
func (a *apiClient) do(ctx context.Context, method, path string, body, out interface{}, headers ...string) error {
	req := a.http.R().SetContext(ctx).SetError(&apierrors.APIError{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.SetHeader(headers[i], headers[i+1])
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*apierrors.APIError); ok && apiErr.Message != "" {
			apiErr.Status = resp.StatusCode()
			return apiErr
		}
		return fmt.Errorf("API error: status %d", resp.StatusCode())
	}
	return nil
}

func (a *apiClient) get(ctx context.Context, path string, out interface{}) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	return a.do(ctx, http.MethodPost, path, body, out)
}

// printJSON writes v indented to stdout. Used for --output json.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatCents(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, cents/100, cents%100, currency)
}
