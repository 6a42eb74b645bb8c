// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Deploy rebuilds and restarts the receipt bot with Docker Compose.

# Usage

	$ deploy [flags...] [environment]

The environment defaults to production and selects the environment file:
.env for production, .env.<environment> otherwise.

Deploy runs these steps in order:

 1. Check that the environment file, the compose file with the bot service
    and the container engine are present. Nothing else happens if one of
    them is missing.
 2. Archive the application tree to backups/backup_<timestamp>.tar.gz.
 3. Pull the configured git branch, if any.
 4. Build images without cache, stop the containers and start them again.
 5. Poll the health endpoint, 30 times 2 seconds apart by default. If the
    bot never becomes healthy, deploy fails and prints the rollback command
    that restores the archive from step 2.
 6. Register and verify the Telegram webhook.
 7. Print container status and recent logs, and keep only the five newest
    archives.

Failures of steps 2, 3, 4 and 6 are reported as warnings and don't stop the
deployment.

# Configuration

Project settings are read from deploy.star in the project directory, a
Starlark file. All settings are optional:

	service = "bot"
	compose_file = "docker-compose.yml"
	health_url = "http://localhost:8000/health"
	health_attempts = 30
	health_interval = 2
	backup_dir = "backups"
	keep_backups = 5
	backup_paths = ["app", "requirements.txt"]
	git_remote = "origin"
	git_branch = "main"
	env_files = {"staging": ".env.staging"}
	log_tail = 50

	# Register the webhook by running scripts in the bot container (default),
	# by calling the Bot API directly, or not at all.
	webhook = script(register = "scripts/register_webhook.py", verify = "scripts/check_webhook.py")
	webhook = bot_api()
	webhook = no_webhook()

	# Send a summary of every run to ADMIN_GROUP_ID, optionally into a topic.
	notify = telegram(topic = 12)

	# Copy new archives to S3-compatible storage.
	offsite = s3(endpoint = "s3.example.com", bucket = "backups", prefix = "receipts")

Secrets are read from the environment file, and the process environment
takes precedence: TELEGRAM_BOT_TOKEN, TELEGRAM_WEBHOOK_URL,
TELEGRAM_WEBHOOK_SECRET, ADMIN_GROUP_ID, S3_ACCESS_KEY and S3_SECRET_KEY.

Only one deploy or rollback can run at a time per backup directory.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/botops/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
