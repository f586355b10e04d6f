// SPDX-License-Identifier: AGPL-3.0-only

// Package subscribe tracks push listeners on mailbox addresses.
//
// A listener is registered with a token commitment and can only be
// cancelled by revealing a token that opens it, so observers cannot
// cancel each other's subscriptions.  Listener state is ephemeral;
// nothing here touches disk.
package subscribe

import (
	"errors"
	"io"
	"sync"

	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/hpqc/rand"

	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/core/wire"
)

var (
	// ErrUnknownListener is returned for listener ids that are not
	// registered.
	ErrUnknownListener = errors.New("subscribe: unknown listener")

	// ErrBadToken is returned when a token does not open the listener's
	// commitment.
	ErrBadToken = errors.New("subscribe: token does not match commitment")
)

// ListenerID identifies one registered listener.
type ListenerID [wire.ListenerIDLength]byte

// NewListenerID generates a random listener id.
func NewListenerID() ListenerID {
	var id ListenerID
	if _, err := io.ReadFull(rand.Reader, id[:]); err != nil {
		panic(err)
	}
	return id
}

// ListenerIDFromBytes decodes a ListenerID.
func ListenerIDFromBytes(b []byte) (ListenerID, error) {
	var id ListenerID
	if len(b) != wire.ListenerIDLength {
		return id, errors.New("subscribe: invalid listener id length")
	}
	copy(id[:], b)
	return id, nil
}

// Bytes returns the raw listener id.
func (id ListenerID) Bytes() []byte {
	return append([]byte(nil), id[:]...)
}

// Sink receives mailbox notifications.  Implementations must not
// block; a slow consumer drops notifications rather than stalling the
// sender path.
type Sink interface {
	Push(id uint64, body []byte)
}

type entry struct {
	id         ListenerID
	addr       blindaddr.Public
	commitment subtoken.Commitment
	sink       Sink
	owner      interface{}
}

// Registry is the set of live listeners.
type Registry struct {
	sync.Mutex

	log *logging.Logger

	byID    map[ListenerID]*entry
	byAddr  map[blindaddr.Public]map[ListenerID]*entry
	byOwner map[interface{}]map[ListenerID]*entry
}

// New constructs an empty Registry.
func New(logBackend *log.Backend) *Registry {
	return &Registry{
		log:     logBackend.GetLogger("subscribe"),
		byID:    make(map[ListenerID]*entry),
		byAddr:  make(map[blindaddr.Public]map[ListenerID]*entry),
		byOwner: make(map[interface{}]map[ListenerID]*entry),
	}
}

// Subscribe registers a listener on addr.  The owner handle groups
// listeners for bulk removal when a connection goes away.
func (r *Registry) Subscribe(owner interface{}, addr blindaddr.Public, c subtoken.Commitment, sink Sink) ListenerID {
	e := &entry{
		id:         NewListenerID(),
		addr:       addr,
		commitment: c,
		sink:       sink,
		owner:      owner,
	}

	r.Lock()
	defer r.Unlock()
	r.byID[e.id] = e
	if r.byAddr[addr] == nil {
		r.byAddr[addr] = make(map[ListenerID]*entry)
	}
	r.byAddr[addr][e.id] = e
	if r.byOwner[owner] == nil {
		r.byOwner[owner] = make(map[ListenerID]*entry)
	}
	r.byOwner[owner][e.id] = e
	r.log.Debugf("Subscribed listener on mailbox")
	return e.id
}

// Unsubscribe cancels a listener.  The token must open the commitment
// presented at subscribe time.
func (r *Registry) Unsubscribe(id ListenerID, tok subtoken.Token) error {
	r.Lock()
	defer r.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return ErrUnknownListener
	}
	if !e.commitment.Verify(tok) {
		return ErrBadToken
	}
	r.removeLocked(e)
	return nil
}

// DropOwner removes every listener registered under owner.
func (r *Registry) DropOwner(owner interface{}) {
	r.Lock()
	defer r.Unlock()
	for _, e := range r.byOwner[owner] {
		r.removeLocked(e)
	}
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.byID, e.id)
	if m := r.byAddr[e.addr]; m != nil {
		delete(m, e.id)
		if len(m) == 0 {
			delete(r.byAddr, e.addr)
		}
	}
	if m := r.byOwner[e.owner]; m != nil {
		delete(m, e.id)
		if len(m) == 0 {
			delete(r.byOwner, e.owner)
		}
	}
}

// Notify pushes a freshly appended entry to every listener on addr and
// returns the number of listeners notified.
func (r *Registry) Notify(addr blindaddr.Public, deliveryID uint64, body []byte) int {
	r.Lock()
	sinks := make([]Sink, 0, len(r.byAddr[addr]))
	for _, e := range r.byAddr[addr] {
		sinks = append(sinks, e.sink)
	}
	r.Unlock()

	for _, s := range sinks {
		s.Push(deliveryID, body)
	}
	return len(sinks)
}
