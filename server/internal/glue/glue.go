// SPDX-License-Identifier: AGPL-3.0-only

// Package glue implements the glue structure that ties all the
// internal server components together.
package glue

import (
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/server/config"
	"github.com/chipshifter/licks/server/mailbox"
	"github.com/chipshifter/licks/server/subscribe"
	"github.com/chipshifter/licks/server/userdb"
)

// Glue is the access to the server internals provided to subsystems.
type Glue interface {
	Config() *config.Config
	LogBackend() *log.Backend
	Mailboxes() mailbox.Store
	Listeners() *subscribe.Registry
	UserDB() userdb.UserDB
}
