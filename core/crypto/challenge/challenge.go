// SPDX-License-Identifier: AGPL-3.0-only

// Package challenge implements the challenge/response handshake that
// binds a connection to a verified device identity.
//
// The server issues fresh random challenge bytes.  The client mixes in
// its own nonce and signs the hash of both with its device key; signing
// the hash of server bytes and client bytes, rather than the server
// bytes directly, stops a dishonest server from getting an arbitrary
// payload signed, and stops a captured response from being replayed
// against a different challenge.
package challenge

import (
	"errors"
	"io"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/identity"
)

// Length is the length in bytes of challenge and client nonce values.
const Length = 32

// ErrInvalidResponse is the uniform verification failure; callers never
// learn whether the chain, the hash or the signature was at fault.
var ErrInvalidResponse = errors.New("challenge: response verification failed")

// Challenge is the random value issued by the server, single use per
// authentication attempt.
type Challenge [Length]byte

// New generates fresh challenge bytes.
func New() Challenge {
	var c Challenge
	if _, err := io.ReadFull(rand.Reader, c[:]); err != nil {
		panic(err)
	}
	return c
}

// Bytes returns the challenge as a byte slice.
func (c Challenge) Bytes() []byte {
	return append([]byte{}, c[:]...)
}

// hashWith returns the value the device key signs.
func (c Challenge) hashWith(clientBytes Challenge) []byte {
	m := make([]byte, 0, 2*Length)
	m = append(m, c[:]...)
	m = append(m, clientBytes[:]...)
	h := hash.Sum256(m)
	return h[:]
}

// Response is the client's answer to a challenge.
type Response struct {
	Chain           cert.Chain
	ClientBytes     Challenge
	SignatureOfHash []byte
}

// Respond accepts a challenge on behalf of the given chain secret.
func Respond(c Challenge, cs *cert.ChainSecret) *Response {
	clientBytes := New()
	return &Response{
		Chain:           cs.Chain,
		ClientBytes:     clientBytes,
		SignatureOfHash: cs.SignWithDevice(c.hashWith(clientBytes)),
	}
}

// Verify checks the response against the challenge that was issued and
// returns the authenticated identities.
func (r *Response) Verify(issued Challenge) (identity.AccountID, identity.DeviceID, error) {
	account, device, err := r.Chain.Verify()
	if err != nil {
		return identity.AccountID{}, identity.DeviceID{}, ErrInvalidResponse
	}
	if err := r.Chain.VerifyDeviceSignature(issued.hashWith(r.ClientBytes), r.SignatureOfHash); err != nil {
		return identity.AccountID{}, identity.DeviceID{}, ErrInvalidResponse
	}
	return account, device, nil
}

// FromBytes decodes a Challenge from its wire form.
func FromBytes(b []byte) (Challenge, error) {
	var c Challenge
	if len(b) != Length {
		return c, ErrInvalidResponse
	}
	copy(c[:], b)
	return c, nil
}
