// SPDX-License-Identifier: AGPL-3.0-only

// Package client implements the licks client session.
//
// One connection multiplexes any number of in-flight requests; the
// read loop routes replies to waiters by request id, and unsolicited
// mailbox notifications surface on the Notifications channel.
package client

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/crypto/challenge"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/core/worker"
	"github.com/chipshifter/licks/quic/common"
)

var (
	// ErrHalted is returned by operations on a closed client.
	ErrHalted = errors.New("client: session is closed")

	// ErrUnexpectedReply is returned when the server answers a request
	// with a body the operation does not know how to interpret.
	ErrUnexpectedReply = errors.New("client: unexpected reply")

	// ErrUsernameTaken is returned when claiming a username hash owned
	// by another account.
	ErrUsernameTaken = errors.New("client: username is taken")

	// ErrUsernameYours is returned when re-claiming a username hash the
	// account already owns.
	ErrUsernameYours = errors.New("client: username is already yours")

	// ErrNoKeyPackage is returned when the queried account has no key
	// packages.
	ErrNoKeyPackage = errors.New("client: no key package available")

	// ErrKeyPackagesNotAdded is returned when an upload stored nothing.
	ErrKeyPackagesNotAdded = errors.New("client: key packages not added")
)

// ServerError is a protocol error returned by the server.
type ServerError struct {
	Code wire.Error
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("client: server replied %v", e.Code)
}

// Message is one mailbox entry received from the server.
type Message struct {
	ID   uint64
	Body []byte
}

// Subscription is a live push listener registration.
type Subscription struct {
	ID    []byte
	Token subtoken.Token
}

// pendingReplyDepth bounds how many routed replies one request can
// have buffered; retrieve passes stream many envelopes under a single
// request id.
const pendingReplyDepth = 1024

// Client is a licks client session.
type Client struct {
	worker.Worker

	log *logging.Logger
	s   *wire.Session

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Envelope
	reqID     uint64

	notifyCh chan Message
}

// New wraps an established connection.  The client takes ownership of
// the connection.
func New(conn net.Conn, logBackend *log.Backend) *Client {
	c := &Client{
		log:      logBackend.GetLogger("client"),
		s:        wire.NewSession(conn),
		pending:  make(map[string]chan *wire.Envelope),
		notifyCh: make(chan Message, 64),
	}
	c.Go(c.readWorker)
	return c
}

// Dial connects to a tcp:// or quic:// URL and returns a Client.
func Dial(ctx context.Context, addr string, logBackend *log.Backend) (*Client, error) {
	u, err := url.Parse(addr)
	if err != nil {
		return nil, err
	}
	conn, err := common.Dial(ctx, u)
	if err != nil {
		return nil, err
	}
	return New(conn, logBackend), nil
}

// Notifications returns the channel push notifications arrive on.  The
// channel is closed when the session dies; notifications are dropped
// when the consumer falls behind.
func (c *Client) Notifications() <-chan Message {
	return c.notifyCh
}

// Close sends a best effort Bye and tears the session down.
func (c *Client) Close() error {
	_ = c.s.Send(&wire.Envelope{Body: &wire.Empty{Kind: wire.EmptyBye}})
	err := c.s.Close()
	c.Halt()
	return err
}

func (c *Client) readWorker() {
	defer func() {
		_ = c.s.Close()
		c.pendingMu.Lock()
		for k, ch := range c.pending {
			close(ch)
			delete(c.pending, k)
		}
		c.pendingMu.Unlock()
		close(c.notifyCh)
	}()

	for {
		env, err := c.s.Recv()
		switch {
		case err == nil:
		case errors.Is(err, wire.ErrDecode):
			c.log.Warningf("Dropping malformed envelope: %v", err)
			continue
		default:
			c.log.Debugf("Recv failed: %v", err)
			return
		}
		c.route(env)
	}
}

func (c *Client) route(env *wire.Envelope) {
	if env.RequestID != nil {
		c.pendingMu.Lock()
		ch, ok := c.pending[string(env.RequestID)]
		if ok {
			select {
			case ch <- env:
			default:
				c.log.Warningf("Reply buffer overflow, dropping envelope")
			}
		}
		c.pendingMu.Unlock()
		if !ok {
			c.log.Debugf("Dropping reply for unknown request id")
		}
		return
	}

	// Unsolicited envelopes: mailbox push notifications.
	if u, ok := env.Body.(*wire.Unauthenticated); ok {
		if cs, ok := u.Msg.(*wire.ChatService); ok {
			if m, ok := cs.Msg.(*wire.MlsMessage); ok {
				select {
				case c.notifyCh <- Message{ID: m.DeliveryID, Body: m.Body}:
				default:
					c.log.Warningf("Dropping notification, consumer too slow")
				}
				return
			}
		}
	}
	c.log.Debugf("Ignoring unsolicited envelope")
}

func (c *Client) nextRequestID() []byte {
	id := make([]byte, 8)
	binary.BigEndian.PutUint64(id, atomic.AddUint64(&c.reqID, 1))
	return id
}

// start registers a pending request and sends it, returning the reply
// channel and a deregister func.
func (c *Client) start(body wire.Body) ([]byte, chan *wire.Envelope, func(), error) {
	id := c.nextRequestID()
	ch := make(chan *wire.Envelope, pendingReplyDepth)

	c.pendingMu.Lock()
	c.pending[string(id)] = ch
	c.pendingMu.Unlock()
	cancel := func() {
		c.pendingMu.Lock()
		delete(c.pending, string(id))
		c.pendingMu.Unlock()
	}

	if err := c.s.Send(&wire.Envelope{RequestID: id, Body: body}); err != nil {
		cancel()
		return nil, nil, nil, err
	}
	return id, ch, cancel, nil
}

// roundTrip sends one request and waits for a single reply.
func (c *Client) roundTrip(ctx context.Context, body wire.Body) (wire.Body, error) {
	_, ch, cancel, err := c.start(body)
	if err != nil {
		return nil, err
	}
	defer cancel()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.HaltCh():
		return nil, ErrHalted
	case env, ok := <-ch:
		if !ok {
			return nil, wire.ErrConnectionClosed
		}
		if e, ok := env.Body.(*wire.ErrorBody); ok {
			return nil, &ServerError{Code: e.Code}
		}
		return env.Body, nil
	}
}

func expectOk(body wire.Body, err error) error {
	if err != nil {
		return err
	}
	if e, ok := body.(*wire.Empty); ok && e.Kind == wire.EmptyOk {
		return nil
	}
	return ErrUnexpectedReply
}

// Ping round trips a ping and verifies the echo.
func (c *Client) Ping(ctx context.Context, payload []byte) error {
	body, err := c.roundTrip(ctx, &wire.Ping{Bytes: payload})
	if err != nil {
		return err
	}
	pong, ok := body.(*wire.Pong)
	if !ok || !bytes.Equal(pong.Bytes, payload) {
		return ErrUnexpectedReply
	}
	return nil
}

// GetChallenge asks the server to issue an authentication challenge.
func (c *Client) GetChallenge(ctx context.Context) (challenge.Challenge, error) {
	body, err := c.roundTrip(ctx, &wire.Empty{Kind: wire.EmptyGetChallenge})
	if err != nil {
		return challenge.Challenge{}, err
	}
	ch, ok := body.(*wire.Challenge)
	if !ok {
		return challenge.Challenge{}, ErrUnexpectedReply
	}
	return ch.Challenge, nil
}

// Authenticate runs the challenge/response handshake, upgrading the
// connection to the authenticated channel.
func (c *Client) Authenticate(ctx context.Context, cs *cert.ChainSecret) error {
	issued, err := c.GetChallenge(ctx)
	if err != nil {
		return err
	}
	resp := challenge.Respond(issued, cs)
	return expectOk(c.roundTrip(ctx, &wire.ChallengeResponse{
		Chain:           resp.Chain,
		ClientBytes:     resp.ClientBytes,
		SignatureOfHash: resp.SignatureOfHash,
	}))
}
