// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

/*
Rollback restores the receipt bot to a backup made by deploy.

# Usage

	$ rollback [flags...] <timestamp>
	$ rollback -list

The timestamp has the form YYYYMMDD_HHMMSS and is printed by deploy. A full
archive name such as pre_rollback_20261017_120000.tar.gz is accepted too.

Before anything changes, rollback shows the chosen backup and asks for
confirmation. Only the exact answer "yes" continues. Then it stops the
containers, saves the current application tree as a pre-rollback snapshot,
restores the backup, rebuilds, starts the containers, waits for the health
endpoint and registers the webhook again.

If the timestamp doesn't match any backup, rollback lists the available ones
and exits without changes.

With -list, rollback prints the backups and the outcome of the last deploy or
rollback.

Rollback reads the same deploy.star as deploy. See deploy's documentation for
its settings.
*/
package main

import (
	_ "embed"

	"go.astrophena.name/botops/internal/cli"
)

//go:embed doc.go
var doc []byte

func init() { cli.SetDocComment(doc) }
