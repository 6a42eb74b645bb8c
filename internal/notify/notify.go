// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package notify sends operator notifications to a Telegram chat.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.astrophena.name/botops/internal/logger"
	"go.astrophena.name/botops/internal/request"
	"go.astrophena.name/botops/internal/retry"
)

const (
	tgAPI          = "https://api.telegram.org"
	maxMessageLen  = 4096
	sendRetryLimit = 5
)

// Config configures a Sender.
type Config struct {
	// ChatID is the admin group, for example "-1001234567890".
	ChatID string
	// ThreadID is the forum topic to post into. Zero posts to the main chat.
	ThreadID int64
	Token    string
	// APIURL overrides the Telegram Bot API endpoint.
	APIURL     string
	HTTPClient *http.Client
}

// Sender sends plain-text messages via the Telegram Bot API.
type Sender struct {
	chatID      string
	threadID    int64
	token       string
	apiURL      string
	httpc       *http.Client
	scrubber    *strings.Replacer
	makeRequest func(context.Context, string, any) error
	sleep       func(context.Context, time.Duration) bool
}

// New returns a Sender for the chat in cfg.
func New(cfg Config) *Sender {
	s := &Sender{
		chatID:   cfg.ChatID,
		threadID: cfg.ThreadID,
		token:    cfg.Token,
		apiURL:   cfg.APIURL,
		httpc:    cfg.HTTPClient,
	}
	if s.apiURL == "" {
		s.apiURL = tgAPI
	}
	if s.httpc == nil {
		s.httpc = request.DefaultClient
	}
	if s.token != "" {
		s.scrubber = strings.NewReplacer(s.token, "[EXPUNGED]")
	}
	s.makeRequest = s.makeTelegramRequest
	s.sleep = retry.Sleep
	return s
}

type message struct {
	ChatID             string `json:"chat_id"`
	MessageThreadID    int64  `json:"message_thread_id,omitempty"`
	Text               string `json:"text"`
	LinkPreviewOptions struct {
		IsDisabled bool `json:"is_disabled"`
	} `json:"link_preview_options"`
}

// Send sends text, split into several messages if it's too long. Rate
// limited requests are retried after the delay Telegram asks for.
func (s *Sender) Send(ctx context.Context, text string) error {
	if s.chatID == "" || s.token == "" {
		return errors.New("notify: chat ID and bot token are required")
	}

	msg := &message{ChatID: s.chatID, MessageThreadID: s.threadID}
	msg.LinkPreviewOptions.IsDisabled = true

	for _, chunk := range splitMessage(text) {
		msg.Text = chunk

		var err error
		for attempt := 1; attempt <= sendRetryLimit; attempt++ {
			err = s.makeRequest(ctx, "sendMessage", msg)
			if err == nil {
				break
			}

			retryable, wait := isRateLimited(err)
			if !retryable || attempt == sendRetryLimit {
				break
			}

			logger.Get(ctx).Warn("sending rate limited, waiting", slog.String("chat_id", s.chatID), slog.Duration("wait", wait))
			if !s.sleep(ctx, wait) {
				return ctx.Err()
			}
		}
		if err != nil {
			return fmt.Errorf("notify: %w", err)
		}
	}
	return nil
}

func (s *Sender) makeTelegramRequest(ctx context.Context, method string, args any) error {
	_, err := request.Make[request.IgnoreResponse](ctx, request.Params{
		Method:     http.MethodPost,
		URL:        s.apiURL + "/bot" + s.token + "/" + method,
		Body:       args,
		HTTPClient: s.httpc,
		Scrubber:   s.scrubber,
	})
	return err
}

// splitMessage splits text into messages of at most maxMessageLen runes.
// Blocks separated by blank lines are packed whole while they fit. A block
// too long for one message is broken at a line end, else at a space, else
// at the rune limit.
func splitMessage(text string) []string {
	var (
		chunks []string
		cur    strings.Builder
		curLen int
	)
	flush := func() {
		if cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for block := range strings.SplitSeq(strings.TrimSpace(text), "\n\n") {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		n := utf8.RuneCountInString(block)
		if curLen > 0 && curLen+len("\n\n")+n <= maxMessageLen {
			cur.WriteString("\n\n")
			cur.WriteString(block)
			curLen += len("\n\n") + n
			continue
		}
		flush()
		for n > maxMessageLen {
			var head string
			head, block = cut(block)
			chunks = append(chunks, head)
			n = utf8.RuneCountInString(block)
		}
		cur.WriteString(block)
		curLen = n
	}
	flush()
	return chunks
}

// cut splits text, which must be longer than maxMessageLen runes, into a
// head that fits into one message and the rest.
func cut(text string) (head, rest string) {
	var (
		limit     = len(text)
		lastLine  = -1
		lastSpace = -1
		runes     int
	)
	for i, r := range text {
		if runes == maxMessageLen {
			limit = i
			break
		}
		runes++
		switch {
		case r == '\n':
			lastLine = i
		case unicode.IsSpace(r):
			lastSpace = i
		}
	}

	at := limit
	if lastLine > 0 {
		at = lastLine
	} else if lastSpace > 0 {
		at = lastSpace
	}
	return strings.TrimSpace(text[:at]), strings.TrimSpace(text[at:])
}

func isRateLimited(err error) (bool, time.Duration) {
	var statusErr *request.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusTooManyRequests {
		return false, 0
	}

	var errorResponse struct {
		Parameters struct {
			RetryAfter int `json:"retry_after"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(statusErr.Body, &errorResponse); err != nil {
		return false, 0
	}
	return true, time.Duration(errorResponse.Parameters.RetryAfter) * time.Second
}
