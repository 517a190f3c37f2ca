package chain

import "github.com/healthchain/ledger/foundation/blockchain/database"

// PatientTx is a committed transaction and the height of the block
// carrying it.
type PatientTx struct {
	Height    uint64      `json:"height"`
	BlockHash string      `json:"block_hash"`
	Tx        database.Tx `json:"transaction"`
}

// LatestBlock returns the tip of the chain.
func (c *Chain) LatestBlock() database.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return copyBlock(c.blocks[len(c.blocks)-1])
}

// Height returns the height of the tip of the chain.
func (c *Chain) Height() uint64 {
	return c.LatestBlock().Header.Height
}

// Blocks returns a copy of the chain. Callers can change the blocks and
// their transactions without touching the chain.
func (c *Chain) Blocks() []database.Block {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return copyBlocks(c.blocks)
}

// Difficulty returns the difficulty new blocks are mined at.
func (c *Chain) Difficulty() uint {
	return c.difficulty
}

// MinerID returns the id stamped on blocks this node mines.
func (c *Chain) MinerID() string {
	return c.minerID
}

// TransactionsOfPatient returns every committed transaction about the
// specified patient in chain order.
func (c *Chain) TransactionsOfPatient(patient string) []PatientTx {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var txs []PatientTx
	for _, block := range c.blocks {
		if block.Tx == nil || block.Tx.Body.Patient != patient {
			continue
		}

		txs = append(txs, PatientTx{
			Height:    block.Header.Height,
			BlockHash: block.Header.BlockHash,
			Tx:        *block.Tx,
		})
	}

	return txs
}

// FindTransaction locates the block committing the specified transaction.
func (c *Chain) FindTransaction(txID string) (database.Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, block := range c.blocks {
		if block.Tx != nil && block.Tx.ID == txID {
			return copyBlock(block), true
		}
	}

	return database.Block{}, false
}

// =============================================================================

// copyBlock returns the block with its own copy of the transaction.
func copyBlock(b database.Block) database.Block {
	if b.Tx != nil {
		tx := *b.Tx
		b.Tx = &tx
	}

	return b
}

// copyBlocks deep copies a set of blocks.
func copyBlocks(blocks []database.Block) []database.Block {
	cpy := make([]database.Block, len(blocks))
	for i, b := range blocks {
		cpy[i] = copyBlock(b)
	}

	return cpy
}
