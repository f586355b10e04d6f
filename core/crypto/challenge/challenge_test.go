// SPDX-License-Identifier: AGPL-3.0-only

package challenge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/identity"
)

func TestChallengeResponse(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	account := identity.NewAccountID()
	device := identity.NewDeviceID()
	cs, err := cert.NewChainSecret(cert.SchemeEd25519, account, device)
	require.NoError(err)

	issued := New()
	resp := Respond(issued, cs)

	gotAccount, gotDevice, err := resp.Verify(issued)
	require.NoError(err)
	require.Equal(account, gotAccount)
	require.Equal(device, gotDevice)
}

func TestResponseRejectsWrongChallenge(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)

	issued := New()
	resp := Respond(issued, cs)

	// A response captured for one challenge must not verify against
	// another.
	_, _, err = resp.Verify(New())
	require.ErrorIs(err, ErrInvalidResponse)
}

func TestResponseRejectsTamperedSignature(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)

	issued := New()
	resp := Respond(issued, cs)
	resp.SignatureOfHash[0] ^= 0x01

	_, _, err = resp.Verify(issued)
	require.ErrorIs(err, ErrInvalidResponse)
}

func TestResponseRejectsTamperedChain(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)

	issued := New()
	resp := Respond(issued, cs)
	resp.Chain.AccountToDeviceSig[0] ^= 0x01

	_, _, err = resp.Verify(issued)
	require.ErrorIs(err, ErrInvalidResponse)
}
