// Package chain maintains the ordered sequence of blocks owned by a node
// along with the single staged transaction and the mining control flags.
package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/healthchain/ledger/foundation/blockchain/database"
)

// Set of errors returned by the chain.
var (
	ErrNothingStaged      = errors.New("no transaction is staged")
	ErrAlreadyStaged      = errors.New("a different transaction is already staged")
	ErrNotNextBlock       = errors.New("block is not the next block of the chain")
	ErrMiningDisabled     = errors.New("mining is not allowed")
	ErrStagedChanged      = errors.New("staged transaction changed while mining")
	ErrEmptyChain         = errors.New("chain has no blocks")
	ErrChainDiscontinuous = errors.New("chain is not continuous")
)

// EventHandler defines a function that is called when events
// occur in the processing of the chain.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to construct a chain.
type Config struct {
	Storage    database.Storage
	Accounts   database.AccountChecker
	Difficulty uint
	MinerID    string
	EvHandler  EventHandler
}

// staged is the transaction and the external record a node is working on.
type staged struct {
	tx     database.Tx
	record database.Record
}

// Chain manages the blocks of a single node.
type Chain struct {
	mu         sync.RWMutex
	blocks     []database.Block
	difficulty uint
	minerID    string
	staged     *staged
	canMine    bool
	isMining   bool
	minedBlock *database.Block

	accounts database.AccountChecker
	storage  database.Storage
	ev       EventHandler
}

// New constructs a chain by loading the blocks held in storage. An empty
// storage is seeded with the genesis block.
func New(cfg Config) (*Chain, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Storage == nil || cfg.Accounts == nil {
		return nil, errors.New("storage and accounts are required")
	}

	var blocks []database.Block
	iter := cfg.Storage.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return nil, fmt.Errorf("reading blocks: %w", err)
		}
		blocks = append(blocks, block)
	}

	if len(blocks) == 0 {
		genesis := database.Genesis()
		if err := cfg.Storage.Write(genesis); err != nil {
			return nil, fmt.Errorf("writing genesis: %w", err)
		}
		blocks = append(blocks, genesis)
	}

	if err := Validate(blocks); err != nil {
		return nil, fmt.Errorf("stored chain: %w", err)
	}

	ev("chain: New: loaded: blocks[%d]: difficulty[%d]: miner[%s]", len(blocks), cfg.Difficulty, cfg.MinerID)

	c := Chain{
		blocks:     blocks,
		difficulty: cfg.Difficulty,
		minerID:    cfg.MinerID,
		canMine:    true,
		accounts:   cfg.Accounts,
		storage:    cfg.Storage,
		ev:         ev,
	}

	return &c, nil
}

// Close releases the storage behind the chain.
func (c *Chain) Close() error {
	return c.storage.Close()
}

// =============================================================================

// AddTransaction validates the transaction against the registry and the
// external record and stages the pair as the single in-flight candidate.
// Nothing is staged when validation fails.
func (c *Chain) AddTransaction(tx database.Tx, record database.Record) bool {
	if err := tx.Check(c.accounts, record); err != nil {
		c.ev("chain: AddTransaction: tx[%s]: INVALID: %s", tx.ID, err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.staged != nil && c.staged.tx.ID != tx.ID {
		c.ev("chain: AddTransaction: tx[%s]: %s: staged[%s]", tx.ID, ErrAlreadyStaged, c.staged.tx.ID)
		return false
	}

	c.staged = &staged{tx: tx, record: record}
	c.ev("chain: AddTransaction: tx[%s]: staged", tx.ID)

	return true
}

// Staged returns the staged transaction and its record.
func (c *Chain) Staged() (database.Tx, database.Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.staged == nil {
		return database.Tx{}, nil, false
	}

	return c.staged.tx, c.staged.record, true
}

// ClearStaged drops the staged transaction and any block mined for it.
func (c *Chain) ClearStaged() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.staged = nil
	c.minedBlock = nil
}

// =============================================================================

// CreateNewBlock builds a block for the staged transaction on top of the
// current tip and mines it. The search stops when the context is cancelled.
// The solved block is kept as the mined block until it is taken.
func (c *Chain) CreateNewBlock(ctx context.Context) (database.Block, error) {
	c.mu.Lock()
	if c.staged == nil {
		c.mu.Unlock()
		return database.Block{}, ErrNothingStaged
	}
	if !c.canMine {
		c.mu.Unlock()
		return database.Block{}, ErrMiningDisabled
	}

	parent := c.blocks[len(c.blocks)-1]
	tx := c.staged.tx
	block := database.NewBlock(parent, tx, c.difficulty, c.minerID)
	c.isMining = true
	c.mu.Unlock()

	err := block.Mine(ctx, c.ev)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.isMining = false

	if err != nil {
		return database.Block{}, err
	}

	if c.staged == nil || c.staged.tx.ID != tx.ID {
		return database.Block{}, ErrStagedChanged
	}

	c.minedBlock = &block

	return block, nil
}

// TakeMinedBlock returns the mined block, if one is waiting, and clears it.
func (c *Chain) TakeMinedBlock() (database.Block, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.minedBlock == nil {
		return database.Block{}, false
	}

	block := *c.minedBlock
	c.minedBlock = nil

	return block, true
}

// StopMining turns mining off. A search already under way must also be
// cancelled through its context.
func (c *Chain) StopMining() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.canMine = false
}

// ResetMining turns mining back on and clears the mined block.
func (c *Chain) ResetMining() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.canMine = true
	c.minedBlock = nil
}

// CanMine reports whether mining is allowed.
func (c *Chain) CanMine() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.canMine
}

// IsMining reports whether a proof of work search is running.
func (c *Chain) IsMining() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.isMining
}

// =============================================================================

// ValidateBlock checks the block can be appended after the current tip using
// the external record its transaction references.
func (c *Chain) ValidateBlock(block database.Block, record database.Record) error {
	return block.Check(c.LatestBlock(), c.accounts, record)
}

// AddBlockToChain appends the block, persists it and clears the staged
// candidate.
func (c *Chain) AddBlockToChain(block database.Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.blocks[len(c.blocks)-1]
	if block.Header.Height != tip.Header.Height+1 || block.Header.PrevBlockHash != tip.Header.BlockHash {
		return fmt.Errorf("%w: blk[%d] tip[%d]", ErrNotNextBlock, block.Header.Height, tip.Header.Height)
	}

	if err := c.storage.Write(block); err != nil {
		return fmt.Errorf("writing block %d: %w", block.Header.Height, err)
	}

	c.blocks = append(c.blocks, copyBlock(block))
	c.staged = nil
	c.minedBlock = nil

	c.ev("chain: AddBlockToChain: blk[%d]: hash[%s]: miner[%s]", block.Header.Height, block.Header.BlockHash, block.Header.MinerID)

	return nil
}

// Replace swaps the chain for the specified blocks after validating them.
// This is used when a node bootstraps from a peer.
func (c *Chain) Replace(blocks []database.Block) error {
	if err := Validate(blocks); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.storage.Reset(); err != nil {
		return fmt.Errorf("reset storage: %w", err)
	}

	for _, block := range blocks {
		if err := c.storage.Write(block); err != nil {
			return fmt.Errorf("writing block %d: %w", block.Header.Height, err)
		}
	}

	c.blocks = copyBlocks(blocks)
	c.staged = nil
	c.minedBlock = nil

	c.ev("chain: Replace: blocks[%d]", len(blocks))

	return nil
}

// IsValid walks the chain verifying hash continuity and recomputation.
func (c *Chain) IsValid() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Validate(c.blocks) == nil
}

// Validate checks an ordered set of blocks starting with genesis. Each
// block must link to its predecessor and carry the hash of its own content.
func Validate(blocks []database.Block) error {
	if len(blocks) == 0 {
		return ErrEmptyChain
	}

	if err := blocks[0].CheckGenesis(); err != nil {
		return fmt.Errorf("blk[0]: %w", err)
	}

	for i := 1; i < len(blocks); i++ {
		prev := blocks[i-1]
		cur := blocks[i]

		if cur.Header.Height != prev.Header.Height+1 || cur.Header.PrevBlockHash != prev.Header.BlockHash {
			return fmt.Errorf("%w: blk[%d]", ErrChainDiscontinuous, i)
		}

		if cur.Tx == nil {
			return fmt.Errorf("blk[%d]: %w", i, database.ErrNoTransaction)
		}

		if cur.Header.MerkleRoot != cur.MerkleRoot() {
			return fmt.Errorf("blk[%d]: %w", i, database.ErrMerkleRoot)
		}

		if cur.Header.BlockHash != cur.Hash() {
			return fmt.Errorf("blk[%d]: %w", i, database.ErrBlockHash)
		}

		if !database.IsHashSolved(cur.Header.Difficulty, cur.Header.BlockHash) {
			return fmt.Errorf("blk[%d]: %w", i, database.ErrUnsolvedHash)
		}
	}

	return nil
}
