package database

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// GenesisID is the id of the first block in every chain.
const GenesisID = "genesis"

// Set of block validation failures reported by Block.Check.
var (
	ErrNotLinked      = errors.New("block does not link to the chain tip")
	ErrNoTransaction  = errors.New("block carries no transaction")
	ErrInvalidTx      = errors.New("block transaction is invalid")
	ErrMerkleRoot     = errors.New("merkle root does not match the transaction")
	ErrBlockHash      = errors.New("block hash does not match its contents")
	ErrUnsolvedHash   = errors.New("block hash does not meet its difficulty")
	ErrNotNextHeight  = errors.New("block height is not the next height")
	ErrGenesisInvalid = errors.New("genesis block is not well formed")
)

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	Height        uint64 `json:"height"`              // Position in the chain, genesis is 0.
	ID            string `json:"id"`                  // Unique id for the block.
	PrevBlockHash string `json:"previous_block_hash"` // Hash of the previous block in the chain.
	MerkleRoot    string `json:"merkle_root"`         // Hash of the block's single transaction.
	TimeStamp     int64  `json:"timestamp"`           // Unix nanoseconds of the solving attempt.
	Difficulty    uint   `json:"difficulty"`          // Number of leading 0's the hash must have.
	Nonce         uint64 `json:"nonce"`               // Value identified to solve the hash solution.
	MinerID       string `json:"miner_id"`            // Node that mined the block.
	BlockHash     string `json:"block_hash"`          // Hash of the header fields and transaction.
}

// Block represents a header and the single transaction it commits.
type Block struct {
	Header BlockHeader `json:"header"`
	Tx     *Tx         `json:"transaction"`
}

// Genesis constructs the first block of a chain. Every value is a sentinel
// so every node produces the identical block regardless of its difficulty.
func Genesis() Block {
	b := Block{
		Header: BlockHeader{
			Height:        0,
			ID:            GenesisID,
			PrevBlockHash: signature.ZeroHash,
		},
	}

	b.Header.MerkleRoot = b.MerkleRoot()
	b.Header.BlockHash = b.Hash()

	return b
}

// NewBlock constructs the next block after the parent for the transaction.
// The block still needs to be mined.
func NewBlock(parent Block, tx Tx, difficulty uint, minerID string) Block {
	b := Block{
		Header: BlockHeader{
			Height:        parent.Header.Height + 1,
			ID:            uuid.NewString(),
			PrevBlockHash: parent.Header.BlockHash,
			Difficulty:    difficulty,
			MinerID:       minerID,
		},
		Tx: &tx,
	}

	b.Header.MerkleRoot = b.MerkleRoot()
	b.Header.BlockHash = b.Hash()

	return b
}

// IsGenesis reports whether the block carries the genesis sentinel values.
func (b Block) IsGenesis() bool {
	return b.Header.Height == 0 && b.Header.PrevBlockHash == signature.ZeroHash && b.Header.MinerID == ""
}

// TxString returns the string form of the transaction or an empty string
// for a block without one.
func (b Block) TxString() string {
	if b.Tx == nil {
		return ""
	}

	return b.Tx.String()
}

// MerkleRoot returns the hash of the block's single transaction.
func (b Block) MerkleRoot() string {
	return signature.HashString(b.TxString())
}

// Hash returns the hash of the header fields and the transaction.
func (b Block) Hash() string {
	return b.hash(b.TxString())
}

// hash computes the block hash with an already rendered transaction so the
// mining loop doesn't render it on every attempt.
func (b Block) hash(txStr string) string {
	h := b.Header

	fields := []string{
		h.ID,
		h.PrevBlockHash,
		h.MerkleRoot,
		strconv.FormatUint(h.Height, 10),
		strconv.FormatInt(h.TimeStamp, 10),
		strconv.FormatUint(uint64(h.Difficulty), 10),
		strconv.FormatUint(h.Nonce, 10),
		h.MinerID,
		txStr,
	}

	return signature.HashString(strings.Join(fields, "|"))
}

// Mine does the work of finding a nonce that solves the hash for the block's
// difficulty. Every attempt is stamped with the current time before hashing
// so the winning hash covers the timestamp the block race is decided on. The
// context is checked on every attempt so a cancel stops the search right
// away. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) Mine(ctx context.Context, ev func(v string, args ...any)) error {
	if ev == nil {
		ev = func(string, ...any) {}
	}

	ev("database: Mine: MINING: started: blk[%d]: difficulty[%d]", b.Header.Height, b.Header.Difficulty)
	defer ev("database: Mine: MINING: completed: blk[%d]", b.Header.Height)

	txStr := b.TxString()
	b.Header.TimeStamp = time.Now().UTC().UnixNano()
	b.Header.BlockHash = b.hash(txStr)

	var attempts uint64
	for !IsHashSolved(b.Header.Difficulty, b.Header.BlockHash) {
		if ctx.Err() != nil {
			ev("database: Mine: MINING: CANCELLED: attempts[%d]", attempts)
			return ctx.Err()
		}

		attempts++
		if attempts%1_000_000 == 0 {
			ev("database: Mine: MINING: attempts[%d]", attempts)
		}

		b.Header.Nonce++
		b.Header.TimeStamp = time.Now().UTC().UnixNano()
		b.Header.BlockHash = b.hash(txStr)
	}

	ev("database: Mine: MINING: SOLVED: prevBlk[%s]: newBlk[%s]: attempts[%d]", b.Header.PrevBlockHash, b.Header.BlockHash, attempts)

	return nil
}

// Check takes a block and validates it can be appended after the parent. The
// rules run in a fixed order and the first failure is returned.
func (b Block) Check(parent Block, accounts AccountChecker, record Record) error {
	if b.Header.PrevBlockHash != parent.Header.BlockHash {
		return fmt.Errorf("%w: got %s, exp %s", ErrNotLinked, b.Header.PrevBlockHash, parent.Header.BlockHash)
	}

	if b.Header.Height != parent.Header.Height+1 {
		return fmt.Errorf("%w: got %d, exp %d", ErrNotNextHeight, b.Header.Height, parent.Header.Height+1)
	}

	if b.Tx == nil {
		return ErrNoTransaction
	}

	if err := b.Tx.Check(accounts, record); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTx, err)
	}

	txStr := b.TxString()
	if b.Header.MerkleRoot != signature.HashString(txStr) {
		return ErrMerkleRoot
	}

	if b.Header.BlockHash != b.hash(txStr) {
		return ErrBlockHash
	}

	if !IsHashSolved(b.Header.Difficulty, b.Header.BlockHash) {
		return ErrUnsolvedHash
	}

	return nil
}

// IsValid reports whether the block can be appended after the parent.
func (b Block) IsValid(parent Block, accounts AccountChecker, record Record) bool {
	return b.Check(parent, accounts, record) == nil
}

// CheckGenesis validates a block carries the genesis sentinel values and a
// hash computed over them.
func (b Block) CheckGenesis() error {
	if !b.IsGenesis() || b.Tx != nil {
		return ErrGenesisInvalid
	}

	if b.Header.BlockHash != b.Hash() {
		return ErrBlockHash
	}

	return nil
}

// IsHashSolved checks the hash to make sure it complies with the POW rules.
// We need to match a difficulty number of leading 0's.
func IsHashSolved(difficulty uint, hash string) bool {
	if len(hash) != 64 || difficulty > 64 {
		return false
	}

	return strings.Count(hash[:difficulty], "0") == int(difficulty)
}
