// SPDX-License-Identifier: AGPL-3.0-only

package incoming

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/crypto/challenge"
	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server/internal/instrument"
	"github.com/chipshifter/licks/server/internal/service"
)

var incomingConnID uint64

type incomingConn struct {
	listener *Listener
	log      *logging.Logger

	s *wire.Session

	sendCh  chan *wire.Envelope
	closeCh chan struct{}

	// Connection authentication state.  Mailbox operations never
	// consult it; only the authenticated channel does.
	isAuthenticated  bool
	account          identity.AccountID
	device           identity.DeviceID
	pendingChallenge *challenge.Challenge

	regState service.RegistrationState
}

func newIncomingConn(l *Listener, conn net.Conn) *incomingConn {
	id := atomic.AddUint64(&incomingConnID, 1)
	c := &incomingConn{
		listener: l,
		log:      l.glue.LogBackend().GetLogger(fmt.Sprintf("incoming:%d", id)),
		s:        wire.NewSession(conn),
		sendCh:   make(chan *wire.Envelope, l.glue.Config().Debug.SendQueueSize),
		closeCh:  make(chan struct{}),
	}
	return c
}

// Push implements subscribe.Sink.  It never blocks; when the send
// queue is full the notification is dropped and the listening client
// falls back to polling.
func (c *incomingConn) Push(id uint64, body []byte) {
	e := &wire.Envelope{
		Body: &wire.Unauthenticated{Msg: &wire.ChatService{Msg: &wire.MlsMessage{
			DeliveryID: id,
			Body:       body,
		}}},
	}
	select {
	case c.sendCh <- e:
		instrument.NotificationPushed()
	case <-c.closeCh:
	default:
		instrument.NotificationDropped()
		c.log.Debugf("Dropped notification, send queue full")
	}
}

func (c *incomingConn) worker() {
	defer func() {
		c.log.Debugf("Closing")
		c.listener.glue.Listeners().DropOwner(c)
		close(c.closeCh)
		_ = c.s.Close()
	}()

	go c.writerWorker()

	// Force the blocking Recv below out when the listener tears down.
	go func() {
		select {
		case <-c.listener.closeAllCh:
			_ = c.s.Close()
		case <-c.closeCh:
		}
	}()

	timeout := time.Duration(c.listener.glue.Config().Debug.ConnectionTimeout) * time.Second
	for {
		_ = c.s.SetReadDeadline(time.Now().Add(timeout))
		env, err := c.s.Recv()
		switch {
		case err == nil:
		case errors.Is(err, wire.ErrDecode):
			// The frame was consumed; the session is still usable.
			c.send(nil, &wire.ErrorBody{Code: wire.ErrorDecode})
			continue
		default:
			c.log.Debugf("Recv failed: %v", err)
			return
		}

		select {
		case <-c.listener.closeAllCh:
			return
		default:
		}

		if !c.dispatch(env) {
			return
		}
	}
}

// writerWorker drains the send queue.  On a write failure it closes
// the session, which unblocks the reader, and keeps draining so
// handlers never stall on a dead connection.
func (c *incomingConn) writerWorker() {
	failed := false
	for {
		select {
		case <-c.closeCh:
			return
		case e := <-c.sendCh:
			if failed {
				continue
			}
			if err := c.s.Send(e); err != nil {
				c.log.Debugf("Send failed: %v", err)
				_ = c.s.Close()
				failed = true
			}
		}
	}
}

// send enqueues one reply.  Replies are never dropped; this blocks
// until the writer picks the envelope up or the connection dies.
func (c *incomingConn) send(requestID []byte, body wire.Body) {
	select {
	case c.sendCh <- &wire.Envelope{RequestID: requestID, Body: body}:
	case <-c.closeCh:
	}
}

func (c *incomingConn) sendAll(requestID []byte, bodies []wire.Body) {
	for _, b := range bodies {
		c.send(requestID, b)
	}
}

// dispatch handles one inbound envelope, returning false when the
// connection should close.
func (c *incomingConn) dispatch(env *wire.Envelope) bool {
	switch b := env.Body.(type) {
	case *wire.Ping:
		c.send(env.RequestID, &wire.Pong{Bytes: b.Bytes})
	case *wire.Empty:
		return c.onEmpty(env.RequestID, b.Kind)
	case *wire.ChallengeResponse:
		c.onChallengeResponse(env.RequestID, b)
	case *wire.Unauthenticated:
		c.onUnauthenticated(env.RequestID, b.Msg)
	case *wire.Authenticated:
		if !c.isAuthenticated {
			c.send(env.RequestID, &wire.ErrorBody{Code: wire.ErrorInvalidOperation})
			return true
		}
		c.onAuthenticated(env.RequestID, b.Msg)
	case *wire.Unknown:
		c.send(env.RequestID, &wire.ErrorBody{Code: wire.ErrorUnknown})
	case *wire.ErrorBody:
		c.log.Debugf("Peer reported error: %v", b.Code)
	case *wire.Pong:
		// Unsolicited, ignore.
	default:
		c.send(env.RequestID, &wire.ErrorBody{Code: wire.ErrorInvalidRequest})
	}
	return true
}

func (c *incomingConn) onEmpty(requestID []byte, kind wire.EmptyKind) bool {
	switch kind {
	case wire.EmptyIgnore, wire.EmptyOk:
	case wire.EmptyBye:
		c.log.Debugf("Peer said bye")
		return false
	case wire.EmptyGetChallenge:
		ch := challenge.New()
		c.pendingChallenge = &ch
		c.send(requestID, &wire.Challenge{Challenge: ch})
	default:
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidRequest})
	}
	return true
}

func (c *incomingConn) onChallengeResponse(requestID []byte, b *wire.ChallengeResponse) {
	if c.pendingChallenge == nil {
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidOperation})
		return
	}
	issued := *c.pendingChallenge
	// Challenges are single use.
	c.pendingChallenge = nil

	resp := &challenge.Response{
		Chain:           b.Chain,
		ClientBytes:     b.ClientBytes,
		SignatureOfHash: b.SignatureOfHash,
	}
	acct, dev, err := resp.Verify(issued)
	if err != nil {
		instrument.AuthFailure()
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidCredentials})
		return
	}

	// The presented chain must be the one registered for the account.
	registered, err := c.listener.glue.UserDB().Chain(acct)
	if err != nil {
		instrument.AuthFailure()
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidCredentials})
		return
	}
	regRaw, err := registered.Marshal()
	if err == nil {
		var raw []byte
		if raw, err = b.Chain.Marshal(); err == nil && !bytes.Equal(regRaw, raw) {
			err = errors.New("chain mismatch")
		}
	}
	if err != nil {
		instrument.AuthFailure()
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidCredentials})
		return
	}

	c.isAuthenticated = true
	c.account = acct
	c.device = dev
	c.log.Debugf("Authenticated as %v/%v", acct, dev)
	c.send(requestID, &wire.Empty{Kind: wire.EmptyOk})
}

func (c *incomingConn) onUnauthenticated(requestID []byte, m wire.UnauthBody) {
	svc := c.listener.svc
	switch m := m.(type) {
	case *wire.Registration:
		c.send(requestID, svc.Registrar.Handle(&c.regState, m.Msg))
	case *wire.GetKeyPackage:
		c.send(requestID, svc.KeyPackages.Get(m.Account))
	case *wire.GetAccountFromUsername:
		c.send(requestID, svc.Usernames.Find(m.UsernameHash))
	case *wire.ChatService:
		c.sendAll(requestID, svc.Chat.Handle(c, c, m.Msg))
	default:
		// Server to client variants.
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidRequest})
	}
}

func (c *incomingConn) onAuthenticated(requestID []byte, m wire.AuthBody) {
	svc := c.listener.svc
	switch m := m.(type) {
	case *wire.SetUsername:
		c.send(requestID, svc.Usernames.Set(c.account, m.UsernameHash))
	case *wire.RemoveUsername:
		c.send(requestID, svc.Usernames.Remove(c.account, m.UsernameHash))
	case *wire.UploadKeyPackages:
		c.send(requestID, svc.KeyPackages.Upload(c.account, m.KeyPackages))
	default:
		c.send(requestID, &wire.ErrorBody{Code: wire.ErrorInvalidRequest})
	}
}
