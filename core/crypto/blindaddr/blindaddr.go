// SPDX-License-Identifier: AGPL-3.0-only

// Package blindaddr implements blinded mailbox addressing.
//
// All members of a group share a rotating epoch secret S that the server
// never sees.  Each member derives the same address secret from S with an
// unsalted KDF, and the mailbox identifier is the hash of that address
// secret.  The server authorizes mailbox access by checking that a caller
// can produce the preimage of the mailbox identifier, which only current
// group members can compute, so the server stores and serves messages
// without learning which accounts, or which group, a mailbox belongs to.
// Addresses rotate with every group epoch, bounding long term linkability,
// and learning one epoch's address secret reveals neither the group epoch
// secret nor any other epoch's address.
package blindaddr

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/katzenpost/hpqc/hash"
)

const (
	// SecretLength is the length in bytes of an address secret.
	SecretLength = 32

	// PublicLength is the length in bytes of a public mailbox address.
	PublicLength = hash.HashSize

	// kdfInfo binds the derivation to this protocol.
	kdfInfo = "blinded_address"
)

// ErrInvalidProof is the uniform failure for every proof verification
// error.  Callers never learn which check failed.
var ErrInvalidProof = errors.New("blindaddr: invalid blinded address proof")

// Public is the public mailbox address, the value under which the server
// keys a mailbox.
type Public [PublicLength]byte

// Secret is the address secret shared by all group members for one epoch.
// Whoever holds it may read from and write to the mailbox.
type Secret [SecretLength]byte

// DeriveSecret derives the epoch's address secret from the group epoch
// secret.  The derivation is deliberately deterministic and unsalted so
// that every group member arrives at the same address.
func DeriveSecret(groupSecret []byte) Secret {
	var s Secret
	r := hkdf.New(sha256.New, groupSecret, nil, []byte(kdfInfo))
	if _, err := io.ReadFull(r, s[:]); err != nil {
		panic(err)
	}
	return s
}

// Public returns the mailbox address for the secret.
func (s Secret) Public() Public {
	return Public(hash.Sum256(s[:]))
}

// Bytes returns the address as a byte slice.
func (p Public) Bytes() []byte {
	return append([]byte{}, p[:]...)
}

// Bytes returns the secret as a byte slice.
func (s Secret) Bytes() []byte {
	return append([]byte{}, s[:]...)
}

// PublicFromBytes decodes a Public from its wire form.
func PublicFromBytes(b []byte) (Public, error) {
	var p Public
	if len(b) != PublicLength {
		return p, ErrInvalidProof
	}
	copy(p[:], b)
	return p, nil
}

// SecretFromBytes decodes a Secret from its wire form.
func SecretFromBytes(b []byte) (Secret, error) {
	var s Secret
	if len(b) != SecretLength {
		return s, ErrInvalidProof
	}
	copy(s[:], b)
	return s, nil
}

// Proof authorizes one mailbox operation.  The client discloses the raw
// address secret; the server treats anyone presenting the matching secret
// as an authorized group member.  A MAC based proof that keeps the secret
// client side is a possible future hardening.
type Proof struct {
	Public  Public
	Secret  Secret
	Payload []byte
}

// NewProof builds a proof for the given payload from the address secret.
func NewProof(s Secret, payload []byte) *Proof {
	return &Proof{
		Public:  s.Public(),
		Secret:  s,
		Payload: payload,
	}
}

// Verify checks that the disclosed secret is the preimage of the claimed
// mailbox address.  It returns the verified address and payload, or
// ErrInvalidProof.
func (p *Proof) Verify() (Public, []byte, error) {
	h := hash.Sum256(p.Secret[:])
	if !hmac.Equal(h[:], p.Public[:]) {
		return Public{}, nil, ErrInvalidProof
	}
	return p.Public, p.Payload, nil
}
