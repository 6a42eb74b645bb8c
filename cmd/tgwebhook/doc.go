// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Tgwebhook manages the Telegram webhook of the receipt bot.

# Usage

	$ tgwebhook [flags...] <command> [args...]

Commands:

	set [url]   Point the webhook at url, TELEGRAM_WEBHOOK_URL by default.
	info        Print the current webhook status.
	delete      Remove the webhook after confirmation.

The bot token and the webhook secret are read from TELEGRAM_BOT_TOKEN and
TELEGRAM_WEBHOOK_SECRET, first in the process environment and then in the
environment file of the project (.env, or .env.<environment> with -env).

The webhook URL must use https, except for http://localhost and
http://127.0.0.1 during development, and may only use ports 443, 80, 88 or
8443. Updates that are already pending are kept when the webhook changes.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/botops/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
