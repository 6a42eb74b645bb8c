// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package webhook registers and inspects the Telegram webhook of the bot.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"

	"go.astrophena.name/botops/internal/request"
)

// DefaultAPIURL is the Telegram Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// AllowedUpdates is the list of update types the bot subscribes to.
var AllowedUpdates = []string{"message", "callback_query"}

// AllowedPorts are the ports Telegram is able to deliver webhooks to.
var AllowedPorts = []int{443, 80, 88, 8443}

// ErrInvalidURL is wrapped by errors returned from ValidateURL.
var ErrInvalidURL = errors.New("invalid webhook URL")

// ValidateURL reports whether raw is a URL Telegram accepts as a webhook.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	switch u.Scheme {
	case "https":
	case "http":
		if h := u.Hostname(); h != "localhost" && h != "127.0.0.1" {
			return fmt.Errorf("%w: must use https (http is only allowed for localhost)", ErrInvalidURL)
		}
	default:
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return fmt.Errorf("%w: no hostname", ErrInvalidURL)
	}
	if u.RawQuery != "" || u.ForceQuery {
		return fmt.Errorf("%w: query parameters are not allowed", ErrInvalidURL)
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || !slices.Contains(AllowedPorts, port) {
			return fmt.Errorf("%w: port must be one of %v", ErrInvalidURL, AllowedPorts)
		}
	}
	return nil
}

// Info is the webhook status reported by getWebhookInfo.
type Info struct {
	URL                          string   `json:"url"`
	HasCustomCertificate         bool     `json:"has_custom_certificate"`
	PendingUpdateCount           int      `json:"pending_update_count"`
	IPAddress                    string   `json:"ip_address,omitempty"`
	LastErrorDate                int64    `json:"last_error_date,omitempty"`
	LastErrorMessage             string   `json:"last_error_message,omitempty"`
	LastSynchronizationErrorDate int64    `json:"last_synchronization_error_date,omitempty"`
	MaxConnections               int      `json:"max_connections,omitempty"`
	AllowedUpdates               []string `json:"allowed_updates,omitempty"`
}

// Client is a minimal Telegram Bot API client for webhook methods.
type Client struct {
	Token string
	// APIURL overrides DefaultAPIURL.
	APIURL     string
	HTTPClient *http.Client
}

type apiResponse[T any] struct {
	OK          bool   `json:"ok"`
	Result      T      `json:"result"`
	Description string `json:"description"`
}

// APIError is returned when the Bot API rejects a request.
type APIError struct {
	Method      string
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s: %s", e.Method, e.Description)
}

func call[T any](ctx context.Context, c *Client, method string, args any) (T, error) {
	base := c.APIURL
	if base == "" {
		base = DefaultAPIURL
	}
	var zero T
	if c.Token == "" {
		return zero, errors.New("telegram: bot token is not set")
	}

	resp, err := request.Make[apiResponse[T]](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        strings.TrimSuffix(base, "/") + "/bot" + c.Token + "/" + method,
		Body:       args,
		HTTPClient: c.HTTPClient,
		Scrubber:   strings.NewReplacer(c.Token, "[EXPUNGED]"),
	})
	if err != nil {
		var se *request.StatusError
		if errors.As(err, &se) {
			var r apiResponse[json.RawMessage]
			if json.Unmarshal(se.Body, &r) == nil && r.Description != "" {
				return zero, &APIError{Method: method, Description: r.Description}
			}
		}
		return zero, err
	}
	if !resp.OK {
		return zero, &APIError{Method: method, Description: resp.Description}
	}
	return resp.Result, nil
}

// SetWebhook points the bot at url. Updates carry secret in the
// X-Telegram-Bot-Api-Secret-Token header.
func (c *Client) SetWebhook(ctx context.Context, url, secret string) error {
	if err := ValidateURL(url); err != nil {
		return err
	}
	_, err := call[bool](ctx, c, "setWebhook", map[string]any{
		"url":                  url,
		"secret_token":         secret,
		"allowed_updates":      AllowedUpdates,
		"drop_pending_updates": false,
	})
	return err
}

// GetWebhookInfo returns the current webhook status.
func (c *Client) GetWebhookInfo(ctx context.Context) (*Info, error) {
	info, err := call[Info](ctx, c, "getWebhookInfo", nil)
	if err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteWebhook removes the webhook, keeping pending updates.
func (c *Client) DeleteWebhook(ctx context.Context) error {
	_, err := call[bool](ctx, c, "deleteWebhook", map[string]any{
		"drop_pending_updates": false,
	})
	return err
}
