// SPDX-License-Identifier: AGPL-3.0-only

// Package subtoken implements the token/commitment pair that protects
// mailbox subscriptions.
//
// When a client subscribes to a blinded address it sends the server a
// commitment, the hash of a locally generated random token.  To stop the
// subscription it reveals the token; the server checks the hash against
// the stored commitment.  This stops third parties that learn a listener
// id from cancelling someone else's subscription.
package subtoken

import (
	"crypto/hmac"
	"errors"
	"io"

	"github.com/katzenpost/hpqc/hash"
	"github.com/katzenpost/hpqc/rand"
)

// TokenLength is the length in bytes of a subscription token.
const TokenLength = 32

// CommitmentLength is the length in bytes of a token commitment.
const CommitmentLength = hash.HashSize

var errLength = errors.New("subtoken: invalid length")

// Token is the secret half of a subscription credential, known only to
// the subscriber until it stops listening.
type Token [TokenLength]byte

// Commitment is the public half, stored by the server at subscribe time.
type Commitment [CommitmentLength]byte

// New generates a fresh random token.
func New() Token {
	var tok Token
	if _, err := io.ReadFull(rand.Reader, tok[:]); err != nil {
		panic(err)
	}
	return tok
}

// Commitment returns the commitment for the token.
func (t Token) Commitment() Commitment {
	return Commitment(hash.Sum256(t[:]))
}

// Bytes returns the token as a byte slice.
func (t Token) Bytes() []byte {
	return append([]byte{}, t[:]...)
}

// Bytes returns the commitment as a byte slice.
func (c Commitment) Bytes() []byte {
	return append([]byte{}, c[:]...)
}

// Verify reports whether tok opens the commitment.
func (c Commitment) Verify(tok Token) bool {
	h := tok.Commitment()
	return hmac.Equal(h[:], c[:])
}

// TokenFromBytes decodes a Token from its wire form.
func TokenFromBytes(b []byte) (Token, error) {
	var t Token
	if len(b) != TokenLength {
		return t, errLength
	}
	copy(t[:], b)
	return t, nil
}

// CommitmentFromBytes decodes a Commitment from its wire form.
func CommitmentFromBytes(b []byte) (Commitment, error) {
	var c Commitment
	if len(b) != CommitmentLength {
		return c, errLength
	}
	copy(c[:], b)
	return c, nil
}
