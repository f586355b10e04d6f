// SPDX-License-Identifier: AGPL-3.0-only

package service

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server/internal/glue"
	"github.com/chipshifter/licks/server/userdb"
)

// Usernames handles username hash claims and lookups.
type Usernames struct {
	glue glue.Glue
	log  *logging.Logger
}

// NewUsernames constructs a Usernames service.
func NewUsernames(g glue.Glue) *Usernames {
	return &Usernames{
		glue: g,
		log:  g.LogBackend().GetLogger("svc:usernames"),
	}
}

// Find resolves a username hash to its owning account.
func (s *Usernames) Find(hash []byte) wire.Body {
	acct, found := s.glue.UserDB().AccountForUsername(hash)
	if !found {
		return unauthReply(&wire.NoAccount{})
	}
	return unauthReply(&wire.HereIsAccount{Account: acct})
}

// Set claims a username hash for the authenticated account.
func (s *Usernames) Set(acct identity.AccountID, hash []byte) wire.Body {
	switch err := s.glue.UserDB().SetUsername(hash, acct); {
	case err == nil:
		return okBody()
	case errors.Is(err, userdb.ErrUsernameYours):
		return authReply(&wire.UsernameIsAlreadyYours{})
	case errors.Is(err, userdb.ErrUsernameTaken):
		return authReply(&wire.UsernameIsAlreadyTaken{})
	default:
		s.log.Errorf("Failed to set username: %v", err)
		return errorBody(wire.ErrorInternal)
	}
}

// Remove releases a username hash owned by the authenticated account.
func (s *Usernames) Remove(acct identity.AccountID, hash []byte) wire.Body {
	switch err := s.glue.UserDB().RemoveUsername(hash, acct); {
	case err == nil:
		return okBody()
	case errors.Is(err, userdb.ErrUsernameNotFound):
		return errorBody(wire.ErrorInvalidRequest)
	case errors.Is(err, userdb.ErrUsernameNotOwned):
		return errorBody(wire.ErrorInvalidCredentials)
	default:
		s.log.Errorf("Failed to remove username: %v", err)
		return errorBody(wire.ErrorInternal)
	}
}
