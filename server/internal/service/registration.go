// SPDX-License-Identifier: AGPL-3.0-only

package service

import (
	"bytes"
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server/internal/glue"
	"github.com/chipshifter/licks/server/userdb"
)

type regStage int

const (
	regStageNone regStage = iota
	regStageKeySubmitted
	regStageCertSubmitted
	regStageComplete
)

// RegistrationState is the per connection progress through the three
// stage registration.
type RegistrationState struct {
	stage       regStage
	publicKey   []byte
	account     identity.AccountID
	accountCert []byte
}

// Registrar handles account registration.
type Registrar struct {
	glue glue.Glue
	log  *logging.Logger
}

// NewRegistrar constructs a Registrar.
func NewRegistrar(g glue.Glue) *Registrar {
	return &Registrar{
		glue: g,
		log:  g.LogBackend().GetLogger("svc:registration"),
	}
}

// Handle advances the registration state machine by one message.
func (r *Registrar) Handle(st *RegistrationState, m wire.RegistrationBody) wire.Body {
	switch m := m.(type) {
	case *wire.HereIsMyAccountPublicKey:
		return r.stageKey(st, m)
	case *wire.HereIsMyAccountCertificate:
		return r.stageCert(st, m)
	case *wire.HereIsMyChain:
		return r.stageChain(st, m)
	default:
		// Server to client stage messages have no business arriving
		// here.
		return errorBody(wire.ErrorInvalidRequest)
	}
}

func (r *Registrar) stageKey(st *RegistrationState, m *wire.HereIsMyAccountPublicKey) wire.Body {
	if st.stage != regStageNone {
		return errorBody(wire.ErrorInvalidOperation)
	}
	if len(m.PublicKey) == 0 {
		return errorBody(wire.ErrorInvalidRequest)
	}

	// Allocate a fresh unused account id.
	acct := identity.NewAccountID()
	for r.glue.UserDB().AccountExists(acct) {
		acct = identity.NewAccountID()
	}

	st.publicKey = append([]byte(nil), m.PublicKey...)
	st.account = acct
	st.stage = regStageKeySubmitted
	r.log.Debugf("Allocated %v", acct)
	return unauthReply(&wire.Registration{Msg: &wire.HereIsYourAccountID{Account: acct}})
}

func (r *Registrar) stageCert(st *RegistrationState, m *wire.HereIsMyAccountCertificate) wire.Body {
	if st.stage != regStageKeySubmitted {
		return errorBody(wire.ErrorInvalidOperation)
	}
	c := m.Cert
	if !bytes.Equal(c.PublicKey, st.publicKey) || !bytes.Equal(c.Data, st.account.Bytes()) {
		return errorBody(wire.ErrorInvalidCredentials)
	}
	if err := c.VerifySelf(); err != nil {
		return errorBody(wire.ErrorInvalidCredentials)
	}

	st.accountCert = c.Bytes()
	st.stage = regStageCertSubmitted
	return okBody()
}

func (r *Registrar) stageChain(st *RegistrationState, m *wire.HereIsMyChain) wire.Body {
	if st.stage != regStageCertSubmitted {
		return errorBody(wire.ErrorInvalidOperation)
	}
	acct, _, err := m.Chain.Verify()
	if err != nil {
		return errorBody(wire.ErrorInvalidCredentials)
	}
	// The chain must be rooted in the exact certificate submitted in
	// the previous stage.
	if acct != st.account || !bytes.Equal(m.Chain.AccountCert.Bytes(), st.accountCert) {
		return errorBody(wire.ErrorInvalidCredentials)
	}

	db := r.glue.UserDB()
	if err := db.SetUsername(m.UsernameHash, acct); err != nil {
		if errors.Is(err, userdb.ErrUsernameTaken) || errors.Is(err, userdb.ErrUsernameYours) {
			return errorBody(wire.ErrorInvalidRequest)
		}
		r.log.Errorf("Failed to claim username: %v", err)
		return errorBody(wire.ErrorInternal)
	}
	if err := db.RegisterChain(&m.Chain); err != nil {
		// Roll the username claim back so the name is not burned.
		_ = db.RemoveUsername(m.UsernameHash, acct)
		if errors.Is(err, userdb.ErrAccountExists) {
			return errorBody(wire.ErrorInvalidOperation)
		}
		r.log.Errorf("Failed to register chain: %v", err)
		return errorBody(wire.ErrorInternal)
	}

	st.stage = regStageComplete
	r.log.Debugf("Registered %v", acct)
	return okBody()
}
