// SPDX-License-Identifier: AGPL-3.0-only

// Package userdb defines the account database abstraction.
//
// The database holds what the server must remember across restarts
// about accounts: registered certificate chains, username hash claims
// and uploaded key packages.  Usernames only ever appear here as
// client-side hashes.
package userdb

import (
	"errors"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/identity"
)

var (
	// ErrAccountExists is returned when registering an account id that
	// is already taken.
	ErrAccountExists = errors.New("userdb: account already exists")

	// ErrNoSuchAccount is returned for operations on unknown accounts.
	ErrNoSuchAccount = errors.New("userdb: no such account")

	// ErrUsernameTaken is returned when claiming a username hash owned
	// by another account.
	ErrUsernameTaken = errors.New("userdb: username is taken")

	// ErrUsernameYours is returned when re-claiming a username hash the
	// account already owns.
	ErrUsernameYours = errors.New("userdb: username is already yours")

	// ErrUsernameNotOwned is returned when releasing a username hash
	// owned by another account.
	ErrUsernameNotOwned = errors.New("userdb: username owned by another account")

	// ErrUsernameNotFound is returned when releasing an unclaimed
	// username hash.
	ErrUsernameNotFound = errors.New("userdb: username not found")

	// ErrNoKeyPackages is returned when an account has no key packages
	// at all.
	ErrNoKeyPackages = errors.New("userdb: no key packages")
)

// UserDB is the interface provided by all account database
// implementations.
type UserDB interface {
	// RegisterChain stores a verified certificate chain under its
	// account id, completing registration.
	RegisterChain(ch *cert.Chain) error

	// AccountExists checks whether the account id is registered.
	AccountExists(acct identity.AccountID) bool

	// Chain returns the registered chain of an account.
	Chain(acct identity.AccountID) (*cert.Chain, error)

	// SetUsername claims a username hash for acct.
	SetUsername(hash []byte, acct identity.AccountID) error

	// RemoveUsername releases a username hash owned by acct.
	RemoveUsername(hash []byte, acct identity.AccountID) error

	// AccountForUsername resolves a username hash to its owner.
	AccountForUsername(hash []byte) (identity.AccountID, bool)

	// AddKeyPackages appends key packages for acct, up to the
	// configured cap, and returns the number actually stored.
	AddKeyPackages(acct identity.AccountID, kps [][]byte) (int, error)

	// TakeKeyPackage pops the newest key package of acct.  The final
	// remaining package is returned but never consumed, so an account
	// can always be reached.
	TakeKeyPackage(acct identity.AccountID) ([]byte, error)

	// Close terminates the database.
	Close()
}
