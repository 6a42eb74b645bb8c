// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package request makes JSON HTTP calls to the Bot API and the bot's own
// endpoints.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.astrophena.name/botops/internal/version"
)

// DefaultClient is used when Params.HTTPClient is nil.
var DefaultClient = &http.Client{
	Timeout: 10 * time.Second,
}

// MaxResponseSize limits how much of a response body is read.
const MaxResponseSize = 1 << 20

// ErrTooLarge is returned for responses over MaxResponseSize.
var ErrTooLarge = errors.New("response body too large")

// Params describe a request.
type Params struct {
	// Method defaults to POST when Body is set and GET otherwise.
	Method string
	URL    string
	// Headers are set on the request in addition to User-Agent and
	// Content-Type.
	Headers map[string]string
	// Body is encoded as JSON.
	Body       any
	HTTPClient *http.Client
	// Scrubber removes secrets, such as a bot token in the URL, from errors.
	Scrubber *strings.Replacer
}

func (p Params) method() string {
	switch {
	case p.Method != "":
		return p.Method
	case p.Body != nil:
		return http.MethodPost
	default:
		return http.MethodGet
	}
}

// StatusError is returned when the server responds with a status other than
// 200 OK. Body holds the response body.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

const maxErrorBody = 512

func (e *StatusError) Error() string {
	body := bytes.TrimSpace(e.Body)
	if len(body) > maxErrorBody {
		body = append(body[:maxErrorBody:maxErrorBody], "..."...)
	}
	return fmt.Sprintf("%s %q: want 200, got %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// IgnoreResponse as the type parameter of Make skips decoding the response.
type IgnoreResponse struct{}

type scrubbedError struct {
	err      error
	scrubber *strings.Replacer
}

func (e *scrubbedError) Error() string { return e.scrubber.Replace(e.err.Error()) }
func (e *scrubbedError) Unwrap() error { return e.err }

// Make sends the request described by p and decodes the JSON response into
// a Response.
func Make[Response any](ctx context.Context, p Params) (Response, error) {
	var resp Response
	b, err := do(ctx, p)
	if err == nil {
		if _, ignore := any(resp).(IgnoreResponse); !ignore {
			err = json.Unmarshal(b, &resp)
		}
	}
	if err != nil && p.Scrubber != nil {
		err = &scrubbedError{err: err, scrubber: p.Scrubber}
	}
	return resp, err
}

func do(ctx context.Context, p Params) ([]byte, error) {
	var body io.Reader
	if p.Body != nil {
		data, err := json.Marshal(p.Body)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, p.method(), p.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	httpc := p.HTTPClient
	if httpc == nil {
		httpc = DefaultClient
	}
	res, err := httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(io.LimitReader(res.Body, MaxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxResponseSize {
		return nil, fmt.Errorf("%s %q: %w", req.Method, p.URL, ErrTooLarge)
	}
	if res.StatusCode != http.StatusOK {
		return nil, &StatusError{
			Method:     req.Method,
			URL:        p.URL,
			StatusCode: res.StatusCode,
			Body:       b,
		}
	}
	return b, nil
}
