// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package health polls the HTTP health endpoint of a running service.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/request"
	"go.astrophena.name/botops/internal/retry"
	"go.astrophena.name/botops/internal/version"
)

// Status is the outcome of health polling.
type Status string

// Health statuses. Every poll starts Unknown and ends Healthy or Unhealthy.
const (
	Unknown   Status = "unknown"
	Healthy   Status = "healthy"
	Unhealthy Status = "unhealthy"
)

// DefaultPolicy is 30 attempts two seconds apart, about a minute.
var DefaultPolicy = retry.Constant(30, 2*time.Second)

// Response is the JSON body a service returns from its health endpoint.
// All fields are optional; a non-JSON body is fine as long as the status code
// is 2xx.
type Response struct {
	Status      string `json:"status,omitempty"`
	Version     string `json:"version,omitempty"`
	Environment string `json:"environment,omitempty"`
}

// Checker polls a single health endpoint.
type Checker struct {
	URL        string
	HTTPClient *http.Client // request.DefaultClient if nil
}

// Check performs one GET request. It succeeds on any 2xx status.
func (c *Checker) Check(ctx context.Context) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())

	httpc := c.HTTPClient
	if httpc == nil {
		httpc = request.DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, fmt.Errorf("GET %s: status %d", c.URL, res.StatusCode)
	}

	resp := new(Response)
	// Plain text bodies are accepted.
	_ = json.Unmarshal(b, resp)
	return resp, nil
}

// Result summarizes a Wait call.
type Result struct {
	Status   Status
	Attempts int
	Elapsed  time.Duration
	Response *Response // last successful response
}

// Wait polls the endpoint according to p until it reports healthy. On
// exhaustion it returns a Result with Unhealthy status together with an error
// matching retry.ErrExhausted.
func (c *Checker) Wait(ctx context.Context, p retry.Policy) (Result, error) {
	log := logger.Get(ctx)
	start := time.Now()
	res := Result{Status: Unknown}

	err := retry.Do(ctx, p, func(ctx context.Context, attempt int) error {
		res.Attempts = attempt
		resp, err := c.Check(ctx)
		if err != nil {
			log.Debug("health check failed", slog.Int("attempt", attempt), slog.Int("of", p.Attempts), slog.Any("err", err))
			return err
		}
		res.Response = resp
		return nil
	})
	res.Elapsed = time.Since(start)
	if err != nil {
		res.Status = Unhealthy
		return res, err
	}
	res.Status = Healthy
	return res, nil
}
