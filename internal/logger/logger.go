// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package logger defines a type for writing to logs, a structured logger
// carried in a context, and a thread-safe implementation of an io.Writer that
// keeps the last logged lines in a ring buffer.
package logger

import (
	"container/ring"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Logf is the basic logger type: a printf-like func. Like [log.Printf], the
// format need not end in a newline. Logf functions must be safe for concurrent
// use.
type Logf func(format string, args ...any)

// Write implements the [io.Writer] interface.
func (f Logf) Write(p []byte) (n int, err error) {
	f("%s", p)
	return len(p), nil
}

// Logger is a [slog.Logger] with an adjustable level.
type Logger struct {
	*slog.Logger
	Level *slog.LevelVar

	out io.Writer
}

// New returns a Logger writing text records to w at info level.
func New(w io.Writer) *Logger {
	level := new(slog.LevelVar)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})),
		Level:  level,
		out:    w,
	}
}

// Tee returns a Logger with the same level that additionally copies every
// record to w.
func (l *Logger) Tee(w io.Writer) *Logger {
	out := io.MultiWriter(l.out, w)
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: l.Level})),
		Level:  l.Level,
		out:    out,
	}
}

type ctxKey struct{}

// Put returns a copy of ctx that carries l.
func Put(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// Get returns the Logger stored in ctx by Put. If there is none, it returns a
// Logger writing to standard error.
func Get(ctx context.Context) *Logger {
	if l, ok := ctx.Value(ctxKey{}).(*Logger); ok {
		return l
	}
	return New(os.Stderr)
}

// Streamer is an io.Writer that remembers the last logged lines.
type Streamer interface {
	io.Writer

	// Lines returns remembered lines, oldest first.
	Lines() []string
}

// NewStreamer returns a new Streamer backed by a ring buffer of the given size.
func NewStreamer(size int) Streamer {
	return &lineRingBuffer{r: ring.New(size)}
}

type lineRingBuffer struct {
	mu        sync.Mutex
	remainder string
	r         *ring.Ring
}

func (lrb *lineRingBuffer) Write(b []byte) (int, error) {
	lrb.mu.Lock()
	defer lrb.mu.Unlock()
	text := lrb.remainder + string(b)
	for {
		idx := strings.Index(text, "\n")
		if idx == -1 {
			break
		}
		lrb.r.Value = text[:idx+1] // Include the newline character.
		lrb.r = lrb.r.Next()
		text = text[idx+1:]
	}
	lrb.remainder = text
	return len(b), nil
}

func (lrb *lineRingBuffer) Lines() []string {
	lrb.mu.Lock()
	defer lrb.mu.Unlock()
	lines := make([]string, 0, lrb.r.Len())
	lrb.r.Do(func(x any) {
		if x != nil {
			lines = append(lines, x.(string))
		}
	})
	return lines
}

var _ Streamer = (*lineRingBuffer)(nil)
