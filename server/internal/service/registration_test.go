// SPDX-License-Identifier: AGPL-3.0-only

package service_test

import (
	"crypto/sha256"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server/config"
	"github.com/chipshifter/licks/server/internal/service"
	"github.com/chipshifter/licks/server/mailbox"
	"github.com/chipshifter/licks/server/mailbox/boltmailbox"
	"github.com/chipshifter/licks/server/subscribe"
	"github.com/chipshifter/licks/server/userdb"
	"github.com/chipshifter/licks/server/userdb/boltuserdb"
)

type testGlue struct {
	cfg     *config.Config
	backend *log.Backend
	boxes   mailbox.Store
	reg     *subscribe.Registry
	users   userdb.UserDB
}

func (g *testGlue) Config() *config.Config         { return g.cfg }
func (g *testGlue) LogBackend() *log.Backend       { return g.backend }
func (g *testGlue) Mailboxes() mailbox.Store       { return g.boxes }
func (g *testGlue) Listeners() *subscribe.Registry { return g.reg }
func (g *testGlue) UserDB() userdb.UserDB          { return g.users }

func newTestGlue(t *testing.T) *testGlue {
	dir := t.TempDir()

	backend, err := log.New("", "NOTICE", true)
	require.NoError(t, err)

	users, err := boltuserdb.New(filepath.Join(dir, "users.db"))
	require.NoError(t, err)
	t.Cleanup(func() { users.Close() })

	boxes, err := boltmailbox.New(filepath.Join(dir, "mailboxes.db"), backend)
	require.NoError(t, err)
	t.Cleanup(func() { boxes.Close() })

	return &testGlue{
		cfg:     &config.Config{},
		backend: backend,
		boxes:   boxes,
		reg:     subscribe.New(backend),
		users:   users,
	}
}

func requireError(t *testing.T, b wire.Body, code wire.Error) {
	t.Helper()
	e, ok := b.(*wire.ErrorBody)
	require.True(t, ok, "expected error body, got %T", b)
	require.Equal(t, code, e.Code)
}

func requireOk(t *testing.T, b wire.Body) {
	t.Helper()
	e, ok := b.(*wire.Empty)
	require.True(t, ok, "expected ok, got %T", b)
	require.Equal(t, wire.EmptyOk, e.Kind)
}

// Walks a fresh identity through the full three stage registration,
// returning the resulting chain secret.
func registerOne(t *testing.T, r *service.Registrar, st *service.RegistrationState, usernameHash []byte) *cert.ChainSecret {
	t.Helper()
	require := require.New(t)

	scheme, err := cert.SchemeEd25519.Scheme()
	require.NoError(err)
	pub, priv, err := scheme.GenerateKey()
	require.NoError(err)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(err)

	b := r.Handle(st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes})
	reply, ok := b.(*wire.Unauthenticated)
	require.True(ok, "got %T", b)
	idMsg := reply.Msg.(*wire.Registration).Msg.(*wire.HereIsYourAccountID)
	acct := idMsg.Account

	accountCert, err := cert.NewAccountCertificate(cert.SchemeEd25519, acct, pub, priv)
	require.NoError(err)
	requireOk(t, r.Handle(st, &wire.HereIsMyAccountCertificate{Cert: accountCert}))

	devPub, devPriv, err := scheme.GenerateKey()
	require.NoError(err)
	device := identity.NewDeviceID()
	deviceCert, err := cert.NewDeviceCertificate(cert.SchemeEd25519, device, devPub, devPriv)
	require.NoError(err)
	chain, err := cert.BindChain(accountCert, priv, deviceCert)
	require.NoError(err)

	requireOk(t, r.Handle(st, &wire.HereIsMyChain{Chain: *chain, UsernameHash: usernameHash}))

	return &cert.ChainSecret{Chain: *chain, AccountPriv: priv, DevicePriv: devPriv}
}

func TestRegistrationFlow(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	hash := sha256.Sum256([]byte("alice"))
	var st service.RegistrationState
	cs := registerOne(t, r, &st, hash[:])

	acct, _, err := cs.Chain.Verify()
	require.NoError(err)
	require.True(g.users.AccountExists(acct))
	got, ok := g.users.AccountForUsername(hash[:])
	require.True(ok)
	require.Equal(acct, got)
}

func TestRegistrationStageOrder(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	scheme, err := cert.SchemeEd25519.Scheme()
	require.NoError(err)
	pub, priv, err := scheme.GenerateKey()
	require.NoError(err)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(err)

	// Certificate before key submission is out of order.
	var st service.RegistrationState
	c, err := cert.NewAccountCertificate(cert.SchemeEd25519, identity.NewAccountID(), pub, priv)
	require.NoError(err)
	requireError(t, r.Handle(&st, &wire.HereIsMyAccountCertificate{Cert: c}), wire.ErrorInvalidOperation)

	// So is a chain before the certificate.
	cs, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)
	hash := sha256.Sum256([]byte("bob"))
	requireError(t, r.Handle(&st, &wire.HereIsMyChain{Chain: cs.Chain, UsernameHash: hash[:]}), wire.ErrorInvalidOperation)

	// A second key submission after the first is rejected too.
	b := r.Handle(&st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes})
	require.IsType(&wire.Unauthenticated{}, b)
	requireError(t, r.Handle(&st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes}), wire.ErrorInvalidOperation)
}

func TestRegistrationRejectsMismatchedCertificate(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	scheme, err := cert.SchemeEd25519.Scheme()
	require.NoError(err)
	pub, priv, err := scheme.GenerateKey()
	require.NoError(err)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(err)

	var st service.RegistrationState
	b := r.Handle(&st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes})
	require.IsType(&wire.Unauthenticated{}, b)

	// A certificate over a different account id than the allocated one.
	c, err := cert.NewAccountCertificate(cert.SchemeEd25519, identity.NewAccountID(), pub, priv)
	require.NoError(err)
	requireError(t, r.Handle(&st, &wire.HereIsMyAccountCertificate{Cert: c}), wire.ErrorInvalidCredentials)
}

func TestRegistrationRejectsForeignChain(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	scheme, err := cert.SchemeEd25519.Scheme()
	require.NoError(err)
	pub, priv, err := scheme.GenerateKey()
	require.NoError(err)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(err)

	var st service.RegistrationState
	b := r.Handle(&st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes})
	reply := b.(*wire.Unauthenticated)
	acct := reply.Msg.(*wire.Registration).Msg.(*wire.HereIsYourAccountID).Account

	accountCert, err := cert.NewAccountCertificate(cert.SchemeEd25519, acct, pub, priv)
	require.NoError(err)
	requireOk(t, r.Handle(&st, &wire.HereIsMyAccountCertificate{Cert: accountCert}))

	// A chain rooted in somebody else's account certificate.
	foreign, err := cert.NewChainSecret(cert.SchemeEd25519, identity.NewAccountID(), identity.NewDeviceID())
	require.NoError(err)
	hash := sha256.Sum256([]byte("mallory"))
	requireError(t, r.Handle(&st, &wire.HereIsMyChain{Chain: foreign.Chain, UsernameHash: hash[:]}), wire.ErrorInvalidCredentials)
}

func TestRegistrationUsernameConflictRollsBack(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	hash := sha256.Sum256([]byte("taken"))
	var first service.RegistrationState
	registerOne(t, r, &first, hash[:])

	// A second registrant asking for the same username fails at the
	// final stage without registering an account.
	scheme, err := cert.SchemeEd25519.Scheme()
	require.NoError(err)
	pub, priv, err := scheme.GenerateKey()
	require.NoError(err)
	pubBytes, err := pub.MarshalBinary()
	require.NoError(err)

	var st service.RegistrationState
	b := r.Handle(&st, &wire.HereIsMyAccountPublicKey{PublicKey: pubBytes})
	acct := b.(*wire.Unauthenticated).Msg.(*wire.Registration).Msg.(*wire.HereIsYourAccountID).Account
	accountCert, err := cert.NewAccountCertificate(cert.SchemeEd25519, acct, pub, priv)
	require.NoError(err)
	requireOk(t, r.Handle(&st, &wire.HereIsMyAccountCertificate{Cert: accountCert}))

	devPub, devPriv, err := scheme.GenerateKey()
	require.NoError(err)
	deviceCert, err := cert.NewDeviceCertificate(cert.SchemeEd25519, identity.NewDeviceID(), devPub, devPriv)
	require.NoError(err)
	chain, err := cert.BindChain(accountCert, priv, deviceCert)
	require.NoError(err)

	requireError(t, r.Handle(&st, &wire.HereIsMyChain{Chain: *chain, UsernameHash: hash[:]}), wire.ErrorInvalidRequest)
	require.False(g.users.AccountExists(acct))
}

func TestRegistrarRejectsServerMessages(t *testing.T) {
	t.Parallel()

	g := newTestGlue(t)
	r := service.NewRegistrar(g)

	var st service.RegistrationState
	requireError(t, r.Handle(&st, &wire.HereIsYourAccountID{Account: identity.NewAccountID()}), wire.ErrorInvalidRequest)
}
