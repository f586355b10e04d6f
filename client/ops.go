// SPDX-License-Identifier: AGPL-3.0-only

package client

import (
	"context"
	"errors"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/wire"
)

func (c *Client) unauthRoundTrip(ctx context.Context, m wire.UnauthBody) (wire.UnauthBody, error) {
	body, err := c.roundTrip(ctx, &wire.Unauthenticated{Msg: m})
	if err != nil {
		return nil, err
	}
	if u, ok := body.(*wire.Unauthenticated); ok {
		return u.Msg, nil
	}
	// Trivial acknowledgments come back as Empty.
	if e, ok := body.(*wire.Empty); ok && e.Kind == wire.EmptyOk {
		return nil, nil
	}
	return nil, ErrUnexpectedReply
}

// Register runs the three stage registration, generating fresh account
// and device keys with the given signature scheme and claiming the
// username hash.  It returns the resulting chain and private keys.
func (c *Client) Register(ctx context.Context, id cert.SchemeID, usernameHash []byte) (*cert.ChainSecret, error) {
	scheme, err := id.Scheme()
	if err != nil {
		return nil, err
	}
	accountPub, accountPriv, err := scheme.GenerateKey()
	if err != nil {
		return nil, err
	}
	accountPubBytes, err := accountPub.MarshalBinary()
	if err != nil {
		return nil, err
	}

	// Stage 1: submit the account public key, receive an account id.
	reply, err := c.unauthRoundTrip(ctx, &wire.Registration{
		Msg: &wire.HereIsMyAccountPublicKey{PublicKey: accountPubBytes},
	})
	if err != nil {
		return nil, err
	}
	reg, ok := reply.(*wire.Registration)
	if !ok {
		return nil, ErrUnexpectedReply
	}
	assigned, ok := reg.Msg.(*wire.HereIsYourAccountID)
	if !ok {
		return nil, ErrUnexpectedReply
	}

	// Stage 2: submit the self signed account certificate.
	accountCert, err := cert.NewAccountCertificate(id, assigned.Account, accountPub, accountPriv)
	if err != nil {
		return nil, err
	}
	_, err = c.unauthRoundTrip(ctx, &wire.Registration{
		Msg: &wire.HereIsMyAccountCertificate{Cert: accountCert},
	})
	if err != nil {
		return nil, err
	}

	// Stage 3: submit the full chain and claim the username.
	devicePub, devicePriv, err := scheme.GenerateKey()
	if err != nil {
		return nil, err
	}
	deviceCert, err := cert.NewDeviceCertificate(id, identity.NewDeviceID(), devicePub, devicePriv)
	if err != nil {
		return nil, err
	}
	chain, err := cert.BindChain(accountCert, accountPriv, deviceCert)
	if err != nil {
		return nil, err
	}
	_, err = c.unauthRoundTrip(ctx, &wire.Registration{
		Msg: &wire.HereIsMyChain{Chain: *chain, UsernameHash: usernameHash},
	})
	if err != nil {
		return nil, err
	}

	return &cert.ChainSecret{
		Chain:       *chain,
		AccountPriv: accountPriv,
		DevicePriv:  devicePriv,
	}, nil
}

// SetUsername claims a username hash for the authenticated account.
func (c *Client) SetUsername(ctx context.Context, hash []byte) error {
	body, err := c.roundTrip(ctx, &wire.Authenticated{Msg: &wire.SetUsername{UsernameHash: hash}})
	if err != nil {
		return err
	}
	switch b := body.(type) {
	case *wire.Empty:
		if b.Kind == wire.EmptyOk {
			return nil
		}
	case *wire.Authenticated:
		switch b.Msg.(type) {
		case *wire.UsernameIsAlreadyYours:
			return ErrUsernameYours
		case *wire.UsernameIsAlreadyTaken:
			return ErrUsernameTaken
		}
	}
	return ErrUnexpectedReply
}

// RemoveUsername releases a username hash owned by the authenticated
// account.
func (c *Client) RemoveUsername(ctx context.Context, hash []byte) error {
	return expectOk(c.roundTrip(ctx, &wire.Authenticated{Msg: &wire.RemoveUsername{UsernameHash: hash}}))
}

// AccountForUsername resolves a username hash to its owning account.
func (c *Client) AccountForUsername(ctx context.Context, hash []byte) (identity.AccountID, bool, error) {
	reply, err := c.unauthRoundTrip(ctx, &wire.GetAccountFromUsername{UsernameHash: hash})
	if err != nil {
		return identity.AccountID{}, false, err
	}
	switch m := reply.(type) {
	case *wire.HereIsAccount:
		return m.Account, true, nil
	case *wire.NoAccount:
		return identity.AccountID{}, false, nil
	default:
		return identity.AccountID{}, false, ErrUnexpectedReply
	}
}

// UploadKeyPackages stores key packages for the authenticated account.
func (c *Client) UploadKeyPackages(ctx context.Context, kps [][]byte) error {
	body, err := c.roundTrip(ctx, &wire.Authenticated{Msg: &wire.UploadKeyPackages{KeyPackages: kps}})
	if err != nil {
		return err
	}
	switch b := body.(type) {
	case *wire.Empty:
		if b.Kind == wire.EmptyOk {
			return nil
		}
	case *wire.Authenticated:
		if _, ok := b.Msg.(*wire.KeyPackageAlreadyUploaded); ok {
			return ErrKeyPackagesNotAdded
		}
	}
	return ErrUnexpectedReply
}

// GetKeyPackage fetches one key package of the given account.
func (c *Client) GetKeyPackage(ctx context.Context, acct identity.AccountID) ([]byte, error) {
	reply, err := c.unauthRoundTrip(ctx, &wire.GetKeyPackage{Account: acct})
	if err != nil {
		return nil, err
	}
	switch m := reply.(type) {
	case *wire.HereIsKeyPackage:
		return m.KeyPackage, nil
	case *wire.NoKeyPackage:
		return nil, ErrNoKeyPackage
	default:
		return nil, ErrUnexpectedReply
	}
}

func (c *Client) chatRoundTrip(ctx context.Context, m wire.ChatBody) (wire.ChatBody, error) {
	reply, err := c.unauthRoundTrip(ctx, &wire.ChatService{Msg: m})
	if err != nil {
		return nil, err
	}
	if reply == nil {
		return nil, nil
	}
	if cs, ok := reply.(*wire.ChatService); ok {
		return cs.Msg, nil
	}
	return nil, ErrUnexpectedReply
}

// SendMessage appends payload to the mailbox opened by secret and
// returns the assigned delivery id.
func (c *Client) SendMessage(ctx context.Context, secret blindaddr.Secret, payload []byte) (uint64, error) {
	reply, err := c.chatRoundTrip(ctx, &wire.SendMessage{Proof: blindaddr.NewProof(secret, payload)})
	if err != nil {
		return 0, err
	}
	d, ok := reply.(*wire.Delivered)
	if !ok {
		return 0, ErrUnexpectedReply
	}
	return d.DeliveryID, nil
}

// RetrieveQueue drains the mailbox opened by secret from the given
// delivery id onward, until the server signals the end of the pass.
func (c *Client) RetrieveQueue(ctx context.Context, secret blindaddr.Secret, from uint64) ([]Message, error) {
	_, ch, cancel, err := c.start(&wire.Unauthenticated{Msg: &wire.ChatService{
		Msg: &wire.RetrieveQueue{Proof: blindaddr.NewProof(secret, nil), From: from},
	}})
	if err != nil {
		return nil, err
	}
	defer cancel()

	var out []Message
	for {
		var env *wire.Envelope
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.HaltCh():
			return nil, ErrHalted
		case env, ok = <-ch:
			if !ok {
				return nil, wire.ErrConnectionClosed
			}
		}

		if e, ok := env.Body.(*wire.ErrorBody); ok {
			return nil, &ServerError{Code: e.Code}
		}
		u, ok := env.Body.(*wire.Unauthenticated)
		if !ok {
			return nil, ErrUnexpectedReply
		}
		cs, ok := u.Msg.(*wire.ChatService)
		if !ok {
			return nil, ErrUnexpectedReply
		}
		switch m := cs.Msg.(type) {
		case *wire.MlsMessage:
			out = append(out, Message{ID: m.DeliveryID, Body: m.Body})
		case *wire.QueueDone:
			return out, nil
		case *wire.QueueEmpty:
			return out, nil
		default:
			return nil, ErrUnexpectedReply
		}
	}
}

// Acknowledge deletes a delivered entry from the mailbox opened by
// secret.
func (c *Client) Acknowledge(ctx context.Context, secret blindaddr.Secret, id uint64) error {
	reply, err := c.chatRoundTrip(ctx, &wire.Acknowledge{Proof: blindaddr.NewProof(secret, nil), DeliveryID: id})
	if err != nil {
		return err
	}
	if reply != nil {
		return ErrUnexpectedReply
	}
	return nil
}

// Subscribe registers a push listener on a mailbox address.  The
// returned Subscription holds the token needed to stop listening.
func (c *Client) Subscribe(ctx context.Context, addr blindaddr.Public) (*Subscription, error) {
	tok := subtoken.New()
	reply, err := c.chatRoundTrip(ctx, &wire.SubscribeToAddress{
		Address:    addr,
		Commitment: tok.Commitment(),
	})
	if err != nil {
		return nil, err
	}
	started, ok := reply.(*wire.ListenStarted)
	if !ok {
		return nil, ErrUnexpectedReply
	}
	return &Subscription{ID: started.ListenerID, Token: tok}, nil
}

// StopListening cancels a push listener.
func (c *Client) StopListening(ctx context.Context, sub *Subscription) error {
	reply, err := c.chatRoundTrip(ctx, &wire.StopListening{ListenerID: sub.ID, Token: sub.Token})
	if err != nil {
		return err
	}
	if reply != nil {
		return ErrUnexpectedReply
	}
	return nil
}

// IsServerError reports whether err is a server protocol error with
// the given code.
func IsServerError(err error, code wire.Error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == code
}
