package store

import (
	"fmt"

	"github.com/dgraph-io/badger"
	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
	cm "github.com/meshnetworks/hoard/src/common"
)

const (
	blockPrefix = "block"
	aliasPrefix = "alias"
)

// BadgerStore is a persistent implementation of the Store interface on top of
// a badger key-value database. Blocks and aliases live in the same database
// under distinct key prefixes.
type BadgerStore struct {
	db   *badger.DB
	path string
}

// NewBadgerStore opens (or creates) a badger database at path and wraps it in
// a BadgerStore.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions
	opts.Dir = path
	opts.ValueDir = path
	opts.SyncWrites = false
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{
		db:   handle,
		path: path,
	}
	return store, nil
}

// StorePath returns the database directory.
func (s *BadgerStore) StorePath() string {
	return s.path
}

func blockKey(addr cid.Cid) []byte {
	return []byte(fmt.Sprintf("%s_%s", blockPrefix, addr.KeyString()))
}

func aliasKey(name string) []byte {
	return []byte(fmt.Sprintf("%s_%s", aliasPrefix, name))
}

func isDBKeyNotFound(err error) bool {
	return err.Error() == badger.ErrKeyNotFound.Error()
}

// Put implements the Store interface.
func (s *BadgerStore) Put(codec uint64, payload []byte) (cid.Cid, error) {
	block, err := cas.NewBlock(codec, payload)
	if err != nil {
		return cid.Undef, err
	}
	return block.Address, s.PutBlock(block)
}

// PutBlock implements the Store interface.
func (s *BadgerStore) PutBlock(block *cas.Block) error {
	key := blockKey(block.Address)
	return s.db.Update(func(txn *badger.Txn) error {
		//check if it already exists
		_, err := txn.Get(key)
		if err == nil {
			return nil
		}
		if !isDBKeyNotFound(err) {
			return err
		}
		return txn.Set(key, block.Payload)
	})
}

// Get implements the Store interface. Payloads are verified against their
// address on the way out; a mismatch is reported as a Corrupted StoreErr.
func (s *BadgerStore) Get(addr cid.Cid) (*cas.Block, error) {
	var payload []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(addr))
		if err != nil {
			return err
		}
		payload, err = item.Value()
		return err
	})

	if err != nil {
		if isDBKeyNotFound(err) {
			return nil, cm.NewStoreErr("Block", cm.KeyNotFound, addr.String())
		}
		return nil, err
	}

	if !cas.Verify(addr, payload) {
		return nil, cm.NewStoreErr("Block", cm.Corrupted, addr.String())
	}

	return &cas.Block{Address: addr, Payload: payload}, nil
}

// Has implements the Store interface.
func (s *BadgerStore) Has(addr cid.Cid) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(blockKey(addr))
		return err
	})
	if err != nil {
		if isDBKeyNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// DeleteMany implements the Store interface. Large batches are split across
// transactions when badger reports ErrTxnTooBig.
func (s *BadgerStore) DeleteMany(addrs []cid.Cid) error {
	txn := s.db.NewTransaction(true)
	for _, addr := range addrs {
		err := txn.Delete(blockKey(addr))
		if err == badger.ErrTxnTooBig {
			if err := txn.Commit(nil); err != nil {
				return err
			}
			txn = s.db.NewTransaction(true)
			err = txn.Delete(blockKey(addr))
		}
		if err != nil {
			txn.Discard()
			return err
		}
	}
	return txn.Commit(nil)
}

// Addresses implements the Store interface.
func (s *BadgerStore) Addresses() ([]cid.Cid, error) {
	res := []cid.Cid{}
	prefix := []byte(blockPrefix + "_")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			addr, err := cid.Cast(key[len(prefix):])
			if err != nil {
				return cm.NewStoreErr("Block", cm.Corrupted, string(key))
			}
			res = append(res, addr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Pin implements the Store interface.
func (s *BadgerStore) Pin(name string, target cid.Cid) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(aliasKey(name), target.Bytes())
	})
}

// Unpin implements the Store interface.
func (s *BadgerStore) Unpin(name string) error {
	key := aliasKey(name)
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	if err != nil && isDBKeyNotFound(err) {
		return cm.NewStoreErr("Alias", cm.AliasNotFound, name)
	}
	return err
}

// Aliases implements the Store interface. Results come back in badger's key
// order, which is lexicographic on the alias name.
func (s *BadgerStore) Aliases() ([]Alias, error) {
	res := []Alias{}
	prefix := []byte(aliasPrefix + "_")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := string(item.Key()[len(prefix):])
			val, err := item.Value()
			if err != nil {
				return err
			}
			target, err := cid.Cast(val)
			if err != nil {
				return cm.NewStoreErr("Alias", cm.Corrupted, name)
			}
			res = append(res, Alias{Name: name, Target: target})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Resolve implements the Store interface.
func (s *BadgerStore) Resolve(name string) (cid.Cid, error) {
	var val []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(aliasKey(name))
		if err != nil {
			return err
		}
		val, err = item.Value()
		return err
	})

	if err != nil {
		if isDBKeyNotFound(err) {
			return cid.Undef, cm.NewStoreErr("Alias", cm.AliasNotFound, name)
		}
		return cid.Undef, err
	}

	target, err := cid.Cast(val)
	if err != nil {
		return cid.Undef, cm.NewStoreErr("Alias", cm.Corrupted, name)
	}

	return target, nil
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
