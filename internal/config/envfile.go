// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package config

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Secret names read from the environment.
const (
	EnvBotToken      = "TELEGRAM_BOT_TOKEN"
	EnvWebhookURL    = "TELEGRAM_WEBHOOK_URL"
	EnvWebhookSecret = "TELEGRAM_WEBHOOK_SECRET"
	EnvAdminGroup    = "ADMIN_GROUP_ID"
	EnvS3AccessKey   = "S3_ACCESS_KEY"
	EnvS3SecretKey   = "S3_SECRET_KEY"
)

// ReadEnvFile parses a dotenv file of KEY=VALUE lines. Blank lines and lines
// starting with # are skipped, an "export " prefix is allowed, and values may
// be single- or double-quoted.
func ReadEnvFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseEnv(path, b)
}

func parseEnv(name string, b []byte) (map[string]string, error) {
	vars := make(map[string]string)
	s := bufio.NewScanner(bytes.NewReader(b))
	for n := 1; s.Scan(); n++ {
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		k, v, ok := strings.Cut(line, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" || strings.ContainsAny(k, " \t") {
			return nil, fmt.Errorf("%s:%d: want KEY=VALUE", name, n)
		}
		v = strings.TrimSpace(v)
		switch {
		case len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"':
			uq, err := strconv.Unquote(v)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: %w", name, n, err)
			}
			v = uq
		case len(v) >= 2 && v[0] == '\'' && v[len(v)-1] == '\'':
			v = v[1 : len(v)-1]
		default:
			if i := strings.Index(v, " #"); i >= 0 {
				v = strings.TrimSpace(v[:i])
			}
		}
		vars[k] = v
	}
	return vars, s.Err()
}

// Lookup returns a getenv-like function that prefers the process environment
// and falls back to vars.
func Lookup(vars map[string]string, getenv func(string) string) func(string) string {
	return func(key string) string {
		if getenv != nil {
			if v := getenv(key); v != "" {
				return v
			}
		}
		return vars[key]
	}
}
