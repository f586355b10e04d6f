// SPDX-License-Identifier: AGPL-3.0-only

// Package identity defines the account and device identifiers.
package identity

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/katzenpost/hpqc/rand"
)

// IDLength is the length in bytes of account and device identifiers.
const IDLength = 16

// ErrInvalidIDLength is returned when decoding an identifier of the
// wrong size.
var ErrInvalidIDLength = errors.New("identity: invalid identifier length")

// AccountID identifies one account, allocated by the server at
// registration time.
type AccountID [IDLength]byte

// DeviceID identifies one device belonging to an account, chosen by
// the client.
type DeviceID [IDLength]byte

// NewAccountID returns a fresh random AccountID.
func NewAccountID() AccountID {
	var id AccountID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		panic(err)
	}
	return id
}

// NewDeviceID returns a fresh random DeviceID.
func NewDeviceID() DeviceID {
	var id DeviceID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		panic(err)
	}
	return id
}

// AccountIDFromBytes decodes an AccountID from its wire form.
func AccountIDFromBytes(b []byte) (AccountID, error) {
	var id AccountID
	if len(b) != IDLength {
		return id, ErrInvalidIDLength
	}
	copy(id[:], b)
	return id, nil
}

// DeviceIDFromBytes decodes a DeviceID from its wire form.
func DeviceIDFromBytes(b []byte) (DeviceID, error) {
	var id DeviceID
	if len(b) != IDLength {
		return id, ErrInvalidIDLength
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the identifier as a byte slice.
func (id AccountID) Bytes() []byte {
	return append([]byte{}, id[:]...)
}

func (id AccountID) String() string {
	return "account:" + hex.EncodeToString(id[:])
}

// Bytes returns the identifier as a byte slice.
func (id DeviceID) Bytes() []byte {
	return append([]byte{}, id[:]...)
}

func (id DeviceID) String() string {
	return "device:" + hex.EncodeToString(id[:])
}
