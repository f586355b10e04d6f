// SPDX-License-Identifier: AGPL-3.0-only

// Package boltuserdb implements the account database with a bolt
// database.
package boltuserdb

import (
	"bytes"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/chipshifter/licks/core/cert"
	"github.com/chipshifter/licks/core/identity"
	"github.com/chipshifter/licks/server/userdb"
)

const (
	accountsBucket    = "accounts"
	usernamesBucket   = "usernames"
	keyPackagesBucket = "keypackages"
	metadataBucket    = "metadata"
	versionKey        = "version"

	version = 1

	// maxKeyPackages bounds how many key packages one account may have
	// stored at a time.
	maxKeyPackages = 100
)

type boltUserDB struct {
	db *bolt.DB
}

// New creates or loads the account database at file f.
func New(f string) (userdb.UserDB, error) {
	const (
		metadataOk = iota
		metadataMissing
		metadataInvalid
	)

	d := new(boltUserDB)

	var err error
	d.db, err = bolt.Open(f, 0o600, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = d.db.Close()
		}
	}()

	metadataState := metadataOk
	err = d.db.Update(func(tx *bolt.Tx) error {
		for _, b := range []string{accountsBucket, usernamesBucket, keyPackagesBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(b)); err != nil {
				return err
			}
		}
		meta, err := tx.CreateBucketIfNotExists([]byte(metadataBucket))
		if err != nil {
			return err
		}
		if b := meta.Get([]byte(versionKey)); b != nil {
			if len(b) != 1 || b[0] != version {
				metadataState = metadataInvalid
			}
			return nil
		}
		metadataState = metadataMissing
		return meta.Put([]byte(versionKey), []byte{version})
	})
	if err != nil {
		return nil, err
	}
	if metadataState == metadataInvalid {
		return nil, fmt.Errorf("boltuserdb: incompatible version")
	}

	return d, nil
}

func (d *boltUserDB) RegisterChain(ch *cert.Chain) error {
	acct, _, err := ch.Verify()
	if err != nil {
		return err
	}
	raw, err := ch.Marshal()
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(accountsBucket))
		if bkt.Get(acct.Bytes()) != nil {
			return userdb.ErrAccountExists
		}
		return bkt.Put(acct.Bytes(), raw)
	})
}

func (d *boltUserDB) AccountExists(acct identity.AccountID) bool {
	exists := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		exists = tx.Bucket([]byte(accountsBucket)).Get(acct.Bytes()) != nil
		return nil
	})
	return exists
}

func (d *boltUserDB) Chain(acct identity.AccountID) (*cert.Chain, error) {
	ch := new(cert.Chain)
	err := d.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(accountsBucket)).Get(acct.Bytes())
		if raw == nil {
			return userdb.ErrNoSuchAccount
		}
		return ch.Unmarshal(raw)
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (d *boltUserDB) SetUsername(hash []byte, acct identity.AccountID) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usernamesBucket))
		if owner := bkt.Get(hash); owner != nil {
			if bytes.Equal(owner, acct.Bytes()) {
				return userdb.ErrUsernameYours
			}
			return userdb.ErrUsernameTaken
		}
		return bkt.Put(hash, acct.Bytes())
	})
}

func (d *boltUserDB) RemoveUsername(hash []byte, acct identity.AccountID) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(usernamesBucket))
		owner := bkt.Get(hash)
		if owner == nil {
			return userdb.ErrUsernameNotFound
		}
		if !bytes.Equal(owner, acct.Bytes()) {
			return userdb.ErrUsernameNotOwned
		}
		return bkt.Delete(hash)
	})
}

func (d *boltUserDB) AccountForUsername(hash []byte) (identity.AccountID, bool) {
	var acct identity.AccountID
	found := false
	_ = d.db.View(func(tx *bolt.Tx) error {
		owner := tx.Bucket([]byte(usernamesBucket)).Get(hash)
		if owner == nil {
			return nil
		}
		var err error
		if acct, err = identity.AccountIDFromBytes(owner); err != nil {
			return err
		}
		found = true
		return nil
	})
	return acct, found
}

func (d *boltUserDB) AddKeyPackages(acct identity.AccountID, kps [][]byte) (int, error) {
	if !d.AccountExists(acct) {
		return 0, userdb.ErrNoSuchAccount
	}
	added := 0
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt, err := tx.Bucket([]byte(keyPackagesBucket)).CreateBucketIfNotExists(acct.Bytes())
		if err != nil {
			return err
		}
		have := bkt.Stats().KeyN
		for _, kp := range kps {
			if have+added >= maxKeyPackages {
				break
			}
			seq, err := bkt.NextSequence()
			if err != nil {
				return err
			}
			if err = bkt.Put(seqKey(seq), kp); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

func (d *boltUserDB) TakeKeyPackage(acct identity.AccountID) ([]byte, error) {
	var kp []byte
	err := d.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket([]byte(keyPackagesBucket)).Bucket(acct.Bytes())
		if bkt == nil {
			return userdb.ErrNoKeyPackages
		}
		cur := bkt.Cursor()
		k, v := cur.Last()
		if k == nil {
			return userdb.ErrNoKeyPackages
		}
		kp = append([]byte(nil), v...)
		if first, _ := cur.First(); bytes.Equal(first, k) {
			// Never consume the last remaining key package.
			return nil
		}
		return bkt.Delete(k)
	})
	if err != nil {
		return nil, err
	}
	return kp, nil
}

func (d *boltUserDB) Close() {
	_ = d.db.Sync()
	_ = d.db.Close()
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
