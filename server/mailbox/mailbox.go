// SPDX-License-Identifier: AGPL-3.0-only

// Package mailbox defines the server's mailbox storage abstraction.
//
// Mailboxes are keyed by blinded address.  The store never learns which
// account a mailbox belongs to; every operation is authorized by a
// disclosed address secret, checked against the public address, and
// nothing else.  Delivery ids are per mailbox, strictly increasing and
// start at zero.
package mailbox

import (
	"errors"

	"github.com/chipshifter/licks/core/crypto/blindaddr"
)

var (
	// ErrInvalidCredentials is returned when a proof does not open the
	// mailbox address it names.
	ErrInvalidCredentials = errors.New("mailbox: invalid credentials")

	// ErrShutdown is returned after the store has been closed.
	ErrShutdown = errors.New("mailbox: store is shut down")
)

// Entry is one stored ciphertext and its delivery id.
type Entry struct {
	ID   uint64
	Body []byte
}

// Store is the mailbox storage backend.
type Store interface {
	// Append verifies the proof and appends its payload to the mailbox,
	// creating the mailbox if it does not exist.  It returns the
	// assigned delivery id.
	Append(proof *blindaddr.Proof) (uint64, error)

	// Retrieve verifies the proof and returns the lowest stored entry
	// with id at or above from.  The second return is false when the
	// queue holds no such entry; a missing mailbox retrieves as empty.
	// Retrieve does not delete.
	Retrieve(proof *blindaddr.Proof, from uint64) (Entry, bool, error)

	// Acknowledge verifies the proof and deletes the entry with the
	// given delivery id.  Acknowledging an absent id is a no-op.
	Acknowledge(proof *blindaddr.Proof, id uint64) error

	// Close flushes pending writes and shuts the store down.
	Close() error
}
