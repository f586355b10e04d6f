// SPDX-License-Identifier: AGPL-3.0-only

package service

import (
	"errors"

	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/wire"
	"github.com/chipshifter/licks/server/internal/glue"
	"github.com/chipshifter/licks/server/internal/instrument"
	"github.com/chipshifter/licks/server/mailbox"
	"github.com/chipshifter/licks/server/subscribe"
)

// Chat handles mailbox operations.  These are gated solely by blinded
// address proofs; connection authentication is irrelevant here.
type Chat struct {
	glue glue.Glue
	log  *logging.Logger
}

// NewChat constructs a Chat service.
func NewChat(g glue.Glue) *Chat {
	return &Chat{
		glue: g,
		log:  g.LogBackend().GetLogger("svc:chat"),
	}
}

// Handle dispatches one chat service message.  The owner handle and
// sink identify the connection for listener registration.  A reply is
// one or more bodies sent back in order under the request id.
func (c *Chat) Handle(owner interface{}, sink subscribe.Sink, m wire.ChatBody) []wire.Body {
	switch m := m.(type) {
	case *wire.SendMessage:
		return c.send(m)
	case *wire.RetrieveQueue:
		return c.retrieve(m)
	case *wire.SubscribeToAddress:
		id := c.glue.Listeners().Subscribe(owner, m.Address, m.Commitment, sink)
		return []wire.Body{chatReply(&wire.ListenStarted{ListenerID: id.Bytes()})}
	case *wire.StopListening:
		return c.stopListening(m)
	case *wire.Acknowledge:
		return c.acknowledge(m)
	default:
		// The remaining variants only ever travel server to client.
		return []wire.Body{errorBody(wire.ErrorInvalidRequest)}
	}
}

func (c *Chat) send(m *wire.SendMessage) []wire.Body {
	addr, payload, err := m.Proof.Verify()
	if err != nil {
		instrument.AuthFailure()
		return []wire.Body{errorBody(wire.ErrorInvalidCredentials)}
	}
	id, err := c.glue.Mailboxes().Append(m.Proof)
	if err != nil {
		return []wire.Body{c.storeError(err)}
	}
	instrument.MailboxAppend()
	if n := c.glue.Listeners().Notify(addr, id, payload); n > 0 {
		c.log.Debugf("Notified %d listeners", n)
	}
	return []wire.Body{chatReply(&wire.Delivered{DeliveryID: id})}
}

func (c *Chat) retrieve(m *wire.RetrieveQueue) []wire.Body {
	var bodies []wire.Body
	var last uint64
	next := m.From
	for {
		e, ok, err := c.glue.Mailboxes().Retrieve(m.Proof, next)
		if err != nil {
			return []wire.Body{c.storeError(err)}
		}
		if !ok {
			break
		}
		bodies = append(bodies, chatReply(&wire.MlsMessage{DeliveryID: e.ID, Body: e.Body}))
		last = e.ID
		next = e.ID + 1
	}
	instrument.MailboxRetrieve()
	if len(bodies) == 0 {
		return []wire.Body{chatReply(&wire.QueueEmpty{})}
	}
	return append(bodies, chatReply(&wire.QueueDone{LastID: last}))
}

func (c *Chat) stopListening(m *wire.StopListening) []wire.Body {
	id, err := subscribe.ListenerIDFromBytes(m.ListenerID)
	if err != nil {
		return []wire.Body{errorBody(wire.ErrorInvalidRequest)}
	}
	switch err := c.glue.Listeners().Unsubscribe(id, m.Token); {
	case err == nil:
		return []wire.Body{okBody()}
	case errors.Is(err, subscribe.ErrUnknownListener):
		return []wire.Body{errorBody(wire.ErrorInvalidRequest)}
	case errors.Is(err, subscribe.ErrBadToken):
		instrument.AuthFailure()
		return []wire.Body{errorBody(wire.ErrorInvalidOperation)}
	default:
		return []wire.Body{errorBody(wire.ErrorInternal)}
	}
}

func (c *Chat) acknowledge(m *wire.Acknowledge) []wire.Body {
	if err := c.glue.Mailboxes().Acknowledge(m.Proof, m.DeliveryID); err != nil {
		return []wire.Body{c.storeError(err)}
	}
	return []wire.Body{okBody()}
}

func (c *Chat) storeError(err error) wire.Body {
	if errors.Is(err, mailbox.ErrInvalidCredentials) {
		instrument.AuthFailure()
		return errorBody(wire.ErrorInvalidCredentials)
	}
	c.log.Errorf("Mailbox operation failed: %v", err)
	return errorBody(wire.ErrorInternal)
}
