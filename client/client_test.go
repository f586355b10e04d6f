// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"crypto/sha256"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server"
	"github.com/chipshifter/licks/server/config"
)

func startTestServer(t *testing.T) string {
	cfg := &config.Config{
		DataDir:   t.TempDir(),
		Addresses: []string{"tcp://127.0.0.1:0"},
		Logging:   &config.Logging{Disable: true},
		Debug: &config.Debug{
			ConnectionTimeout: 40,
			SendQueueSize:     64,
		},
	}
	require.NoError(t, cfg.FixupAndValidate())

	s, err := server.New(cfg)
	require.NoError(t, err)
	t.Cleanup(s.Shutdown)

	addrs := s.ListenerAddrs()
	require.Len(t, addrs, 1)
	return fmt.Sprintf("tcp://%v", addrs[0])
}

func dialTestServer(t *testing.T, addr string) *Client {
	logBackend, err := log.New("", "NOTICE", true)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c, err := Dial(ctx, addr, logBackend)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func usernameHash(name string) []byte {
	h := sha256.Sum256([]byte(name))
	return h[:]
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestPing(t *testing.T) {
	t.Parallel()
	addr := startTestServer(t)
	c := dialTestServer(t, addr)
	require.NoError(t, c.Ping(testCtx(t), []byte("are you there")))
}

func TestRegisterAndAuthenticate(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	addr := startTestServer(t)
	c := dialTestServer(t, addr)

	name := usernameHash("alice")
	cs, err := c.Register(ctx, cert.SchemeEd25519, name)
	require.NoError(err)
	acct, _, err := cs.Verify()
	require.NoError(err)

	// The freshly claimed username resolves.
	owner, found, err := c.AccountForUsername(ctx, name)
	require.NoError(err)
	require.True(found)
	require.Equal(acct, owner)

	// Authenticated-only operations are rejected before the handshake.
	err = c.SetUsername(ctx, usernameHash("alice2"))
	require.True(IsServerError(err, wire.ErrorInvalidOperation))

	require.NoError(c.Authenticate(ctx, cs))

	// The same operation succeeds afterwards.
	require.NoError(c.SetUsername(ctx, usernameHash("alice2")))
	require.ErrorIs(c.SetUsername(ctx, name), ErrUsernameYours)

	require.NoError(c.RemoveUsername(ctx, name))
	_, found, err = c.AccountForUsername(ctx, name)
	require.NoError(err)
	require.False(found)
}

func TestAuthenticateRejectsUnregisteredChain(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	c := dialTestServer(t, startTestServer(t))

	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)
	err = c.Authenticate(ctx, cs)
	require.True(IsServerError(err, wire.ErrorInvalidCredentials))
}

func TestUsernameConflict(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	addr := startTestServer(t)

	alice := dialTestServer(t, addr)
	bob := dialTestServer(t, addr)

	name := usernameHash("contested")
	aliceCS, err := alice.Register(ctx, cert.SchemeEd25519, name)
	require.NoError(err)
	require.NoError(alice.Authenticate(ctx, aliceCS))

	bobCS, err := bob.Register(ctx, cert.SchemeEd25519, usernameHash("bob"))
	require.NoError(err)
	require.NoError(bob.Authenticate(ctx, bobCS))

	require.ErrorIs(bob.SetUsername(ctx, name), ErrUsernameTaken)

	// Releasing someone else's name fails too.
	err = bob.RemoveUsername(ctx, name)
	require.True(IsServerError(err, wire.ErrorInvalidCredentials))
}

func TestKeyPackages(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	addr := startTestServer(t)

	alice := dialTestServer(t, addr)
	cs, err := alice.Register(ctx, cert.SchemeEd25519, usernameHash("kp-alice"))
	require.NoError(err)

	// Uploads require authentication.
	err = alice.UploadKeyPackages(ctx, [][]byte{[]byte("kp1")})
	require.True(IsServerError(err, wire.ErrorInvalidOperation))

	require.NoError(alice.Authenticate(ctx, cs))
	require.NoError(alice.UploadKeyPackages(ctx, [][]byte{[]byte("kp1"), []byte("kp2")}))

	// Anyone can fetch a key package without authenticating.
	acct, _, err := cs.Verify()
	require.NoError(err)
	bob := dialTestServer(t, addr)
	kp, err := bob.GetKeyPackage(ctx, acct)
	require.NoError(err)
	require.Equal([]byte("kp2"), kp)

	_, err = bob.GetKeyPackage(ctx, identity.NewAccountID())
	require.ErrorIs(err, ErrNoKeyPackage)
}

func TestChatSendRetrieveAcknowledge(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	addr := startTestServer(t)

	sender := dialTestServer(t, addr)
	receiver := dialTestServer(t, addr)

	secret := blindaddr.DeriveSecret([]byte("e2e group secret"))

	id, err := sender.SendMessage(ctx, secret, []byte("hello mailbox"))
	require.NoError(err)
	require.Equal(uint64(0), id)

	msgs, err := receiver.RetrieveQueue(ctx, secret, 0)
	require.NoError(err)
	require.Len(msgs, 1)
	require.Equal(uint64(0), msgs[0].ID)
	require.Equal([]byte("hello mailbox"), msgs[0].Body)

	require.NoError(receiver.Acknowledge(ctx, secret, 0))
	msgs, err = receiver.RetrieveQueue(ctx, secret, 0)
	require.NoError(err)
	require.Empty(msgs)

	// Resume markers skip entries below the given id.
	for i := 0; i < 3; i++ {
		_, err = sender.SendMessage(ctx, secret, []byte{byte(i)})
		require.NoError(err)
	}
	msgs, err = receiver.RetrieveQueue(ctx, secret, 2)
	require.NoError(err)
	require.Len(msgs, 2)
	require.Equal(uint64(2), msgs[0].ID)
	require.Equal(uint64(3), msgs[1].ID)

	// A wrong secret opens nothing.
	forged := blindaddr.DeriveSecret([]byte("wrong secret"))
	p := blindaddr.NewProof(forged, nil)
	p.Public = secret.Public()
	_, err = receiver.chatRoundTrip(ctx, &wire.RetrieveQueue{Proof: p})
	require.True(IsServerError(err, wire.ErrorInvalidCredentials))
}

func TestSubscribePush(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	addr := startTestServer(t)

	sender := dialTestServer(t, addr)
	listener := dialTestServer(t, addr)

	secret := blindaddr.DeriveSecret([]byte("push group secret"))

	sub, err := listener.Subscribe(ctx, secret.Public())
	require.NoError(err)

	id, err := sender.SendMessage(ctx, secret, []byte("pushed payload"))
	require.NoError(err)

	select {
	case m := <-listener.Notifications():
		require.Equal(id, m.ID)
		require.Equal([]byte("pushed payload"), m.Body)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for push notification")
	}

	// A forged token cannot cancel the listener.
	forged := &Subscription{ID: sub.ID, Token: subtoken.New()}
	err = listener.StopListening(ctx, forged)
	require.True(IsServerError(err, wire.ErrorInvalidOperation))

	require.NoError(listener.StopListening(ctx, sub))

	// After stopping, sends no longer reach the listener.
	_, err = sender.SendMessage(ctx, secret, []byte("after stop"))
	require.NoError(err)
	select {
	case m := <-listener.Notifications():
		t.Fatalf("unexpected notification after stop: %v", m.ID)
	case <-time.After(300 * time.Millisecond):
	}

	// Unknown listener ids are rejected.
	err = listener.StopListening(ctx, sub)
	require.True(IsServerError(err, wire.ErrorInvalidRequest))
}

func TestByeClosesConnection(t *testing.T) {
	t.Parallel()
	require := require.New(t)
	ctx := testCtx(t)
	c := dialTestServer(t, startTestServer(t))

	require.NoError(c.Ping(ctx, []byte("x")))
	require.NoError(c.Close())

	_, err := c.GetChallenge(ctx)
	require.Error(err)
}
