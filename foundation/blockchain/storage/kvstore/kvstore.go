// Package kvstore implements the ability to read and write blocks to an
// embedded badger key/value store.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v2"
	"github.com/healthchain/ledger/foundation/blockchain/database"
)

// ErrNotFound is returned when a block at the requested height is not stored.
var ErrNotFound = errors.New("block not found")

// KVStore represents the storage implementation for reading and storing
// blocks in badger, one key per block height. This implements the
// database.Storage interface.
type KVStore struct {
	db *badger.DB
}

// New opens or creates the badger database at the specified path.
func New(dbPath string) (*KVStore, error) {
	opts := badger.DefaultOptions(dbPath).
		WithSyncWrites(true).
		WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	return &KVStore{db: db}, nil
}

// Close releases the underlying database.
func (kv *KVStore) Close() error {
	return kv.db.Close()
}

// Write stores the block under its height.
func (kv *KVStore) Write(block database.Block) error {
	data, err := json.Marshal(block)
	if err != nil {
		return err
	}

	return kv.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blockKey(block.Header.Height), data)
	})
}

// GetBlock returns the block stored at the specified height.
func (kv *KVStore) GetBlock(height uint64) (database.Block, error) {
	var block database.Block

	err := kv.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(height))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}

		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &block)
		})
	})

	if err != nil {
		return database.Block{}, err
	}

	return block, nil
}

// ForEach returns an iterator to walk through all the blocks
// starting with the genesis block.
func (kv *KVStore) ForEach() database.Iterator {
	return &Iterator{kv: kv}
}

// Reset deletes every block key from the store.
func (kv *KVStore) Reset() error {
	return kv.db.DropPrefix([]byte(prefix))
}

// =============================================================================

const prefix = "block:"

// blockKey zero pads the height so keys sort in chain order.
func blockKey(height uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, height))
}

// =============================================================================

// Iterator represents the iteration implementation for walking
// through and reading blocks from badger.
type Iterator struct {
	kv      *KVStore
	current uint64
	eoc     bool
}

// Next retrieves the next block from the store.
func (it *Iterator) Next() (database.Block, error) {
	if it.eoc {
		return database.Block{}, errors.New("end of chain")
	}

	block, err := it.kv.GetBlock(it.current)
	if errors.Is(err, ErrNotFound) {
		it.eoc = true
	}
	it.current++

	return block, err
}

// Done returns the end of chain value.
func (it *Iterator) Done() bool {
	return it.eoc
}
