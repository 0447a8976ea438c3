package store

import (
	"sort"
	"sync"

	"github.com/ipfs/go-cid"

	"github.com/meshnetworks/hoard/src/cas"
	cm "github.com/meshnetworks/hoard/src/common"
)

// InmemStore implements the Store interface with in-memory maps. It is used
// for tests and for ephemeral embeddings that do not need persistence.
type InmemStore struct {
	blocksLock sync.RWMutex
	blocks     map[cid.Cid][]byte

	aliasesLock sync.RWMutex
	aliases     map[string]cid.Cid
}

// NewInmemStore instantiates an empty InmemStore.
func NewInmemStore() *InmemStore {
	return &InmemStore{
		blocks:  make(map[cid.Cid][]byte),
		aliases: make(map[string]cid.Cid),
	}
}

// Put implements the Store interface.
func (s *InmemStore) Put(codec uint64, payload []byte) (cid.Cid, error) {
	block, err := cas.NewBlock(codec, payload)
	if err != nil {
		return cid.Undef, err
	}
	return block.Address, s.PutBlock(block)
}

// PutBlock implements the Store interface.
func (s *InmemStore) PutBlock(block *cas.Block) error {
	s.blocksLock.Lock()
	defer s.blocksLock.Unlock()

	if _, ok := s.blocks[block.Address]; ok {
		return nil
	}

	payload := make([]byte, len(block.Payload))
	copy(payload, block.Payload)
	s.blocks[block.Address] = payload

	return nil
}

// Get implements the Store interface.
func (s *InmemStore) Get(addr cid.Cid) (*cas.Block, error) {
	s.blocksLock.RLock()
	defer s.blocksLock.RUnlock()

	payload, ok := s.blocks[addr]
	if !ok {
		return nil, cm.NewStoreErr("Block", cm.KeyNotFound, addr.String())
	}

	return &cas.Block{Address: addr, Payload: payload}, nil
}

// Has implements the Store interface.
func (s *InmemStore) Has(addr cid.Cid) (bool, error) {
	s.blocksLock.RLock()
	defer s.blocksLock.RUnlock()

	_, ok := s.blocks[addr]

	return ok, nil
}

// DeleteMany implements the Store interface.
func (s *InmemStore) DeleteMany(addrs []cid.Cid) error {
	s.blocksLock.Lock()
	defer s.blocksLock.Unlock()

	for _, addr := range addrs {
		delete(s.blocks, addr)
	}

	return nil
}

// Addresses implements the Store interface.
func (s *InmemStore) Addresses() ([]cid.Cid, error) {
	s.blocksLock.RLock()
	defer s.blocksLock.RUnlock()

	res := make([]cid.Cid, 0, len(s.blocks))
	for addr := range s.blocks {
		res = append(res, addr)
	}

	return res, nil
}

// Pin implements the Store interface.
func (s *InmemStore) Pin(name string, target cid.Cid) error {
	s.aliasesLock.Lock()
	defer s.aliasesLock.Unlock()

	s.aliases[name] = target

	return nil
}

// Unpin implements the Store interface.
func (s *InmemStore) Unpin(name string) error {
	s.aliasesLock.Lock()
	defer s.aliasesLock.Unlock()

	if _, ok := s.aliases[name]; !ok {
		return cm.NewStoreErr("Alias", cm.AliasNotFound, name)
	}

	delete(s.aliases, name)

	return nil
}

// Aliases implements the Store interface. Results are sorted by name so that
// listings are stable.
func (s *InmemStore) Aliases() ([]Alias, error) {
	s.aliasesLock.RLock()
	defer s.aliasesLock.RUnlock()

	res := make([]Alias, 0, len(s.aliases))
	for name, target := range s.aliases {
		res = append(res, Alias{Name: name, Target: target})
	}

	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })

	return res, nil
}

// Resolve implements the Store interface.
func (s *InmemStore) Resolve(name string) (cid.Cid, error) {
	s.aliasesLock.RLock()
	defer s.aliasesLock.RUnlock()

	target, ok := s.aliases[name]
	if !ok {
		return cid.Undef, cm.NewStoreErr("Alias", cm.AliasNotFound, name)
	}

	return target, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
