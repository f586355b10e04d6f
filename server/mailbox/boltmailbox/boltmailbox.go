// SPDX-License-Identifier: AGPL-3.0-only

// Package boltmailbox implements a mailbox store backed by a bolt
// database.  Mailbox contents live in memory and are written back to
// disk by a background worker, so append and retrieve never block on
// the database.
package boltmailbox

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"
	"gopkg.in/op/go-logging.v1"

	"github.com/chipshifter/licks/core/crypto/blindaddr"
	"github.com/chipshifter/licks/core/log"
	"github.com/chipshifter/licks/core/worker"
	"github.com/chipshifter/licks/server/mailbox"
)

const (
	mailboxesBucket = "mailboxes"
	entriesBucket   = "e"
	nextIDKey       = "n"

	versionKey = "version"
	version    = 1

	writeBackInterval = 1 * time.Second
)

type mbox struct {
	sync.Mutex

	nextID  uint64
	entries map[uint64][]byte
	dirty   map[uint64]bool
	dead    map[uint64]bool
}

func newMbox() *mbox {
	return &mbox{
		entries: make(map[uint64][]byte),
		dirty:   make(map[uint64]bool),
		dead:    make(map[uint64]bool),
	}
}

// Store is a bolt backed mailbox.Store.
type Store struct {
	worker.Worker

	log *logging.Logger

	db     *bolt.DB
	boxes  sync.Map
	closed atomic.Bool

	closeOnce sync.Once
}

// New creates or loads a mailbox store at file f.
func New(f string, logBackend *log.Backend) (mailbox.Store, error) {
	s := &Store{
		log: logBackend.GetLogger("mailbox"),
	}

	var err error
	s.db, err = bolt.Open(f, 0o600, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = s.db.Close()
		}
	}()

	if err = s.db.Update(func(tx *bolt.Tx) error {
		root, err := tx.CreateBucketIfNotExists([]byte(mailboxesBucket))
		if err != nil {
			return err
		}
		if b := root.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != version {
				return fmt.Errorf("boltmailbox: incompatible version: %d", b)
			}
			return nil
		}
		return root.Put([]byte(versionKey), []byte{version})
	}); err != nil {
		return nil, err
	}

	if err = s.load(); err != nil {
		return nil, err
	}

	s.Go(s.flushWorker)
	return s, nil
}

func (s *Store) load() error {
	return s.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(mailboxesBucket))
		return root.ForEach(func(k, v []byte) error {
			if v != nil {
				// Skip non-bucket keys like the version marker.
				return nil
			}
			addr, err := blindaddr.PublicFromBytes(k)
			if err != nil {
				return fmt.Errorf("boltmailbox: invalid mailbox key: %v", err)
			}
			bkt := root.Bucket(k)
			m := newMbox()
			if b := bkt.Get([]byte(nextIDKey)); len(b) == 8 {
				m.nextID = binary.BigEndian.Uint64(b)
			}
			if ents := bkt.Bucket([]byte(entriesBucket)); ents != nil {
				if err := ents.ForEach(func(id, body []byte) error {
					if len(id) != 8 {
						return fmt.Errorf("boltmailbox: invalid entry key")
					}
					m.entries[binary.BigEndian.Uint64(id)] = append([]byte(nil), body...)
					return nil
				}); err != nil {
					return err
				}
			}
			s.boxes.Store(addr, m)
			return nil
		})
	})
}

func (s *Store) getOrCreate(addr blindaddr.Public) *mbox {
	if m, ok := s.boxes.Load(addr); ok {
		return m.(*mbox)
	}
	m, _ := s.boxes.LoadOrStore(addr, newMbox())
	return m.(*mbox)
}

// Append implements mailbox.Store.
func (s *Store) Append(proof *blindaddr.Proof) (uint64, error) {
	if s.closed.Load() {
		return 0, mailbox.ErrShutdown
	}
	addr, payload, err := proof.Verify()
	if err != nil {
		return 0, mailbox.ErrInvalidCredentials
	}

	m := s.getOrCreate(addr)
	m.Lock()
	defer m.Unlock()
	id := m.nextID
	m.nextID++
	m.entries[id] = append([]byte(nil), payload...)
	m.dirty[id] = true
	delete(m.dead, id)
	return id, nil
}

// Retrieve implements mailbox.Store.
func (s *Store) Retrieve(proof *blindaddr.Proof, from uint64) (mailbox.Entry, bool, error) {
	if s.closed.Load() {
		return mailbox.Entry{}, false, mailbox.ErrShutdown
	}
	addr, _, err := proof.Verify()
	if err != nil {
		return mailbox.Entry{}, false, mailbox.ErrInvalidCredentials
	}

	v, ok := s.boxes.Load(addr)
	if !ok {
		return mailbox.Entry{}, false, nil
	}
	m := v.(*mbox)
	m.Lock()
	defer m.Unlock()
	best := uint64(0)
	found := false
	for id := range m.entries {
		if id < from {
			continue
		}
		if !found || id < best {
			best = id
			found = true
		}
	}
	if !found {
		return mailbox.Entry{}, false, nil
	}
	return mailbox.Entry{ID: best, Body: append([]byte(nil), m.entries[best]...)}, true, nil
}

// Acknowledge implements mailbox.Store.
func (s *Store) Acknowledge(proof *blindaddr.Proof, id uint64) error {
	if s.closed.Load() {
		return mailbox.ErrShutdown
	}
	addr, _, err := proof.Verify()
	if err != nil {
		return mailbox.ErrInvalidCredentials
	}

	v, ok := s.boxes.Load(addr)
	if !ok {
		return nil
	}
	m := v.(*mbox)
	m.Lock()
	defer m.Unlock()
	if _, ok := m.entries[id]; !ok {
		return nil
	}
	delete(m.entries, id)
	delete(m.dirty, id)
	m.dead[id] = true
	return nil
}

func (s *Store) flushWorker() {
	t := time.NewTicker(writeBackInterval)
	defer t.Stop()
	for {
		select {
		case <-s.HaltCh():
			s.flush()
			return
		case <-t.C:
			s.flush()
		}
	}
}

// flush writes all dirty state back to the database in one
// transaction.
func (s *Store) flush() {
	type delta struct {
		addr   blindaddr.Public
		nextID uint64
		put    map[uint64][]byte
		del    []uint64
	}
	var deltas []delta

	s.boxes.Range(func(k, v interface{}) bool {
		m := v.(*mbox)
		m.Lock()
		if len(m.dirty) == 0 && len(m.dead) == 0 {
			m.Unlock()
			return true
		}
		d := delta{
			addr:   k.(blindaddr.Public),
			nextID: m.nextID,
			put:    make(map[uint64][]byte, len(m.dirty)),
		}
		for id := range m.dirty {
			d.put[id] = m.entries[id]
		}
		for id := range m.dead {
			d.del = append(d.del, id)
		}
		m.dirty = make(map[uint64]bool)
		m.dead = make(map[uint64]bool)
		m.Unlock()
		deltas = append(deltas, d)
		return true
	})
	if len(deltas) == 0 {
		return
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(mailboxesBucket))
		for _, d := range deltas {
			bkt, err := root.CreateBucketIfNotExists(d.addr.Bytes())
			if err != nil {
				return err
			}
			var n [8]byte
			binary.BigEndian.PutUint64(n[:], d.nextID)
			if err = bkt.Put([]byte(nextIDKey), n[:]); err != nil {
				return err
			}
			ents, err := bkt.CreateBucketIfNotExists([]byte(entriesBucket))
			if err != nil {
				return err
			}
			for id, body := range d.put {
				var k [8]byte
				binary.BigEndian.PutUint64(k[:], id)
				if err = ents.Put(k[:], body); err != nil {
					return err
				}
			}
			for _, id := range d.del {
				var k [8]byte
				binary.BigEndian.PutUint64(k[:], id)
				if err = ents.Delete(k[:]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Errorf("Failed to flush mailboxes: %v", err)
	}
}

// Close implements mailbox.Store.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.Halt()
		_ = s.db.Sync()
		_ = s.db.Close()
		s.log.Debugf("Mailbox store closed")
	})
	return nil
}
