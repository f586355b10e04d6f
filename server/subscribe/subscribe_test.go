// SPDX-License-Identifier: AGPL-3.0-only

package subscribe

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/crypto/subtoken"
	"github.com/chipshifter/licks/core/log"
)

type recordingSink struct {
	sync.Mutex
	got []uint64
}

func (s *recordingSink) Push(id uint64, body []byte) {
	s.Lock()
	defer s.Unlock()
	s.got = append(s.got, id)
}

func (s *recordingSink) ids() []uint64 {
	s.Lock()
	defer s.Unlock()
	return append([]uint64(nil), s.got...)
}

func newTestRegistry(t *testing.T) *Registry {
	logBackend, err := log.New("", "NOTICE", true)
	require.NoError(t, err)
	return New(logBackend)
}

func TestSubscribeNotify(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	r := newTestRegistry(t)
	addr := blindaddr.DeriveSecret([]byte("watched mailbox")).Public()
	other := blindaddr.DeriveSecret([]byte("unrelated mailbox")).Public()

	sink := &recordingSink{}
	tok := subtoken.New()
	r.Subscribe("conn-1", addr, tok.Commitment(), sink)

	require.Equal(1, r.Notify(addr, 0, []byte("a")))
	require.Equal(0, r.Notify(other, 0, []byte("b")))
	require.Equal(1, r.Notify(addr, 1, []byte("c")))
	require.Equal([]uint64{0, 1}, sink.ids())
}

func TestUnsubscribeTokenSafety(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	r := newTestRegistry(t)
	addr := blindaddr.DeriveSecret([]byte("guarded")).Public()
	sink := &recordingSink{}
	tok := subtoken.New()
	id := r.Subscribe("conn-1", addr, tok.Commitment(), sink)

	// A token that does not open the commitment cannot cancel.
	require.ErrorIs(r.Unsubscribe(id, subtoken.New()), ErrBadToken)
	require.Equal(1, r.Notify(addr, 0, nil))

	require.NoError(r.Unsubscribe(id, tok))
	require.Equal(0, r.Notify(addr, 1, nil))
	require.Equal([]uint64{0}, sink.ids())

	// Cancelled ids are gone.
	require.ErrorIs(r.Unsubscribe(id, tok), ErrUnknownListener)
}

func TestDropOwner(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	r := newTestRegistry(t)
	addrA := blindaddr.DeriveSecret([]byte("a")).Public()
	addrB := blindaddr.DeriveSecret([]byte("b")).Public()

	mine := &recordingSink{}
	theirs := &recordingSink{}
	r.Subscribe("conn-1", addrA, subtoken.New().Commitment(), mine)
	r.Subscribe("conn-1", addrB, subtoken.New().Commitment(), mine)
	r.Subscribe("conn-2", addrA, subtoken.New().Commitment(), theirs)

	r.DropOwner("conn-1")
	require.Equal(1, r.Notify(addrA, 0, nil))
	require.Equal(0, r.Notify(addrB, 0, nil))
	require.Empty(mine.ids())
	require.Equal([]uint64{0}, theirs.ids())
}

func TestMultipleListenersOneAddress(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	r := newTestRegistry(t)
	addr := blindaddr.DeriveSecret([]byte("popular")).Public()

	a := &recordingSink{}
	b := &recordingSink{}
	r.Subscribe("conn-1", addr, subtoken.New().Commitment(), a)
	r.Subscribe("conn-2", addr, subtoken.New().Commitment(), b)

	require.Equal(2, r.Notify(addr, 5, []byte("x")))
	require.Equal([]uint64{5}, a.ids())
	require.Equal([]uint64{5}, b.ids())
}

func TestListenerIDFromBytes(t *testing.T) {
	t.Parallel()
	require := require.New(t)

	id := NewListenerID()
	got, err := ListenerIDFromBytes(id.Bytes())
	require.NoError(err)
	require.Equal(id, got)

	_, err = ListenerIDFromBytes([]byte{1, 2, 3})
	require.Error(err)
}
