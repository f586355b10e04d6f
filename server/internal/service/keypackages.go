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

// KeyPackages handles key package uploads and fetches.
type KeyPackages struct {
	glue glue.Glue
	log  *logging.Logger
}

// NewKeyPackages constructs a KeyPackages service.
func NewKeyPackages(g glue.Glue) *KeyPackages {
	return &KeyPackages{
		glue: g,
		log:  g.LogBackend().GetLogger("svc:keypackages"),
	}
}

// Get hands out one key package of the given account.  Unknown
// accounts and empty stacks both answer no_key_package, so a lookup
// does not reveal whether an account exists.
func (s *KeyPackages) Get(acct identity.AccountID) wire.Body {
	kp, err := s.glue.UserDB().TakeKeyPackage(acct)
	switch {
	case err == nil:
		return unauthReply(&wire.HereIsKeyPackage{KeyPackage: kp})
	case errors.Is(err, userdb.ErrNoKeyPackages), errors.Is(err, userdb.ErrNoSuchAccount):
		return unauthReply(&wire.NoKeyPackage{})
	default:
		s.log.Errorf("Failed to take key package: %v", err)
		return errorBody(wire.ErrorInternal)
	}
}

// Upload stores key packages for the authenticated account.
func (s *KeyPackages) Upload(acct identity.AccountID, kps [][]byte) wire.Body {
	if len(kps) == 0 {
		return errorBody(wire.ErrorInvalidRequest)
	}
	added, err := s.glue.UserDB().AddKeyPackages(acct, kps)
	switch {
	case err == nil && added > 0:
		return okBody()
	case err == nil:
		return authReply(&wire.KeyPackageAlreadyUploaded{})
	case errors.Is(err, userdb.ErrNoSuchAccount):
		return errorBody(wire.ErrorInvalidCredentials)
	default:
		s.log.Errorf("Failed to add key packages: %v", err)
		return errorBody(wire.ErrorInternal)
	}
}
