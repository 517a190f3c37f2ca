package chain_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/chain"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/registry"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
	"github.com/healthchain/ledger/foundation/blockchain/storage/memory"
)

type fixture struct {
	reg     *registry.Registry
	creator signature.Identity
	patient signature.Identity
}

func newFixture(t *testing.T) fixture {
	t.Helper()

	reg, err := registry.New("")
	if err != nil {
		t.Fatalf("Should be able to construct a registry: %s", err)
	}

	creator, err := signature.Generate()
	if err != nil {
		t.Fatalf("Should be able to generate the creator: %s", err)
	}
	patient, err := signature.Generate()
	if err != nil {
		t.Fatalf("Should be able to generate the patient: %s", err)
	}

	if _, err := reg.Register(creator); err != nil {
		t.Fatalf("Should be able to register the creator: %s", err)
	}
	if _, err := reg.Register(patient); err != nil {
		t.Fatalf("Should be able to register the patient: %s", err)
	}

	return fixture{reg: reg, creator: creator, patient: patient}
}

func (fx fixture) signed(t *testing.T, n int) (database.Tx, database.Record) {
	t.Helper()

	record := database.Record{
		"id":            fmt.Sprintf("rec-%02d", n),
		"patient_id":    "987654321",
		"patient_name":  "Petar Djordjevic",
		"doctor_name":   "Dr. Jovana Petrovic",
		"doctor_id":     "doc-1",
		"hospital_name": "Dom zdravlja Novi Beograd",
		"hospital_id":   "hosp-1",
	}

	body := database.NewTxBody(fx.creator.PublicKey, fx.patient.PublicKey, fmt.Sprintf("records/rec-%02d", n), time.Now(), record)
	tx, err := body.Sign(fx.creator)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return tx, record
}

func (fx fixture) newChain(t *testing.T, strg database.Storage) *chain.Chain {
	t.Helper()

	if strg == nil {
		var err error
		if strg, err = memory.New(); err != nil {
			t.Fatalf("Should be able to construct storage: %s", err)
		}
	}

	c, err := chain.New(chain.Config{
		Storage:    strg,
		Accounts:   fx.reg,
		Difficulty: 1,
		MinerID:    "miner1",
	})
	if err != nil {
		t.Fatalf("Should be able to construct the chain: %s", err)
	}

	return c
}

// commit stages, mines and appends a transaction.
func (fx fixture) commit(t *testing.T, c *chain.Chain, n int) database.Block {
	t.Helper()

	tx, record := fx.signed(t, n)
	if !c.AddTransaction(tx, record) {
		t.Fatalf("Should be able to stage transaction %d.", n)
	}

	block, err := c.CreateNewBlock(context.Background())
	if err != nil {
		t.Fatalf("Should be able to mine transaction %d: %s", n, err)
	}

	if err := c.ValidateBlock(block, record); err != nil {
		t.Fatalf("Should validate the mined block: %s", err)
	}

	if err := c.AddBlockToChain(block); err != nil {
		t.Fatalf("Should be able to append the block: %s", err)
	}

	return block
}

// =============================================================================

func Test_NewSeedsGenesis(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	if c.Height() != 0 {
		t.Fatalf("Should start at height 0, got %d", c.Height())
	}

	if c.LatestBlock().Header.BlockHash != database.Genesis().Header.BlockHash {
		t.Fatalf("Should start with the genesis block.")
	}

	if !c.IsValid() {
		t.Fatalf("Should validate a chain holding only genesis.")
	}
}

func Test_Staging(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	tx1, rec1 := fx.signed(t, 1)
	tx2, rec2 := fx.signed(t, 2)

	bad := database.Record{}
	for k, v := range rec1 {
		bad[k] = v
	}
	delete(bad, "doctor_id")

	if c.AddTransaction(tx1, bad) {
		t.Fatalf("Should not stage a transaction with an incomplete record.")
	}
	if _, _, ok := c.Staged(); ok {
		t.Fatalf("Should not stage anything when validation fails.")
	}

	if !c.AddTransaction(tx1, rec1) {
		t.Fatalf("Should stage a valid transaction.")
	}

	if c.AddTransaction(tx2, rec2) {
		t.Fatalf("Should not stage a second transaction while one is staged.")
	}

	got, _, ok := c.Staged()
	if !ok || got.ID != tx1.ID {
		t.Fatalf("Should keep the first transaction staged.")
	}

	c.ClearStaged()
	if _, err := c.CreateNewBlock(context.Background()); !errors.Is(err, chain.ErrNothingStaged) {
		t.Fatalf("Should not mine without a staged transaction, got %v", err)
	}
}

func Test_MiningFlags(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	tx, rec := fx.signed(t, 1)
	c.AddTransaction(tx, rec)

	c.StopMining()
	if _, err := c.CreateNewBlock(context.Background()); !errors.Is(err, chain.ErrMiningDisabled) {
		t.Fatalf("Should not mine while mining is stopped, got %v", err)
	}

	c.ResetMining()
	if !c.CanMine() {
		t.Fatalf("Should allow mining after a reset.")
	}

	block, err := c.CreateNewBlock(context.Background())
	if err != nil {
		t.Fatalf("Should be able to mine: %s", err)
	}

	mined, ok := c.TakeMinedBlock()
	if !ok || mined.Header.BlockHash != block.Header.BlockHash {
		t.Fatalf("Should hold the mined block until taken.")
	}

	if _, ok := c.TakeMinedBlock(); ok {
		t.Fatalf("Should clear the mined block once taken.")
	}

	if c.IsMining() {
		t.Fatalf("Should not report mining after the search completed.")
	}
}

func Test_AddBlockToChain(t *testing.T) {
	fx := newFixture(t)

	strg, err := memory.New()
	if err != nil {
		t.Fatalf("Should be able to construct storage: %s", err)
	}
	c := fx.newChain(t, strg)

	b1 := fx.commit(t, c, 1)
	fx.commit(t, c, 2)

	if c.Height() != 2 {
		t.Fatalf("Should be at height 2, got %d", c.Height())
	}

	if _, _, ok := c.Staged(); ok {
		t.Fatalf("Should clear the staged transaction on append.")
	}

	if err := c.AddBlockToChain(b1); !errors.Is(err, chain.ErrNotNextBlock) {
		t.Fatalf("Should not append a block twice, got %v", err)
	}

	reloaded := fx.newChain(t, strg)
	if reloaded.Height() != 2 || !reloaded.IsValid() {
		t.Fatalf("Should reload the persisted chain.")
	}
}

func Test_Validate(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	fx.commit(t, c, 1)
	fx.commit(t, c, 2)

	if err := chain.Validate(c.Blocks()); err != nil {
		t.Fatalf("Should validate a valid chain: %s", err)
	}

	tt := []struct {
		name   string
		mutate func(blocks []database.Block)
	}{
		{"block-hash", func(b []database.Block) { b[1].Header.BlockHash = strings.Repeat("0", 64) }},
		{"prev-hash", func(b []database.Block) { b[2].Header.PrevBlockHash = strings.Repeat("0", 64) }},
		{"nonce", func(b []database.Block) { b[1].Header.Nonce++ }},
		{"miner", func(b []database.Block) { b[2].Header.MinerID = "miner2" }},
		{"height", func(b []database.Block) { b[2].Header.Height = 7 }},
		{"genesis", func(b []database.Block) { b[0].Header.MinerID = "miner1" }},
		{"merkle", func(b []database.Block) { b[1].Header.MerkleRoot = strings.Repeat("a", 64) }},
		{"timestamp", func(b []database.Block) { b[1].Header.TimeStamp = 1 }},
		{"timestamp-tip", func(b []database.Block) { b[2].Header.TimeStamp = -42 }},
		{"difficulty", func(b []database.Block) { b[2].Header.Difficulty = 0 }},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			blocks := c.Blocks()
			tst.mutate(blocks)

			if err := chain.Validate(blocks); err == nil {
				t.Fatalf("Test %s:\tShould fail validation after the mutation.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}

	if !c.IsValid() {
		t.Fatalf("Should not be affected by mutating a copy.")
	}
}

func Test_BlocksCopyTransactions(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	fx.commit(t, c, 1)
	exp := c.LatestBlock().Tx.Body.RecordHash

	blocks := c.Blocks()
	blocks[1].Tx.Body.RecordHash = strings.Repeat("f", 64)
	blocks[1].Tx.ID = "changed"

	latest := c.LatestBlock()
	latest.Tx.Body.Patient = "changed"

	if found, _ := c.FindTransaction(blocks[1].Tx.ID); found.Tx != nil {
		t.Fatalf("Should not find a transaction renamed on a copy.")
	}

	got := c.LatestBlock().Tx
	if got.Body.RecordHash != exp || got.Body.Patient == "changed" || got.ID == "changed" {
		t.Logf("got: %+v", got)
		t.Fatalf("Should not share transactions with the caller.")
	}

	if !c.IsValid() {
		t.Fatalf("Should keep the chain valid after mutating copies.")
	}
}

func Test_Replace(t *testing.T) {
	fx := newFixture(t)

	src := fx.newChain(t, nil)
	fx.commit(t, src, 1)

	dst := fx.newChain(t, nil)

	bad := src.Blocks()
	bad[1].Header.Nonce++
	if err := dst.Replace(bad); err == nil {
		t.Fatalf("Should not replace with an invalid chain.")
	}
	if dst.Height() != 0 {
		t.Fatalf("Should keep the chain after a failed replace.")
	}

	if err := dst.Replace(src.Blocks()); err != nil {
		t.Fatalf("Should replace with a valid chain: %s", err)
	}
	if dst.LatestBlock().Header.BlockHash != src.LatestBlock().Header.BlockHash {
		t.Fatalf("Should hold the replaced chain.")
	}
}

func Test_Queries(t *testing.T) {
	fx := newFixture(t)
	c := fx.newChain(t, nil)

	b1 := fx.commit(t, c, 1)
	b2 := fx.commit(t, c, 2)

	txs := c.TransactionsOfPatient(fx.patient.PublicKey)
	if len(txs) != 2 {
		t.Fatalf("Should find both transactions of the patient, got %d", len(txs))
	}
	if txs[0].Height != 1 || txs[1].Height != 2 {
		t.Fatalf("Should return the transactions in chain order.")
	}

	if len(c.TransactionsOfPatient(fx.creator.PublicKey)) != 0 {
		t.Fatalf("Should not find transactions for another key.")
	}

	block, ok := c.FindTransaction(b2.Tx.ID)
	if !ok || block.Header.BlockHash != b2.Header.BlockHash {
		t.Fatalf("Should locate the block carrying the transaction.")
	}

	if _, ok := c.FindTransaction(b1.Header.ID); ok {
		t.Fatalf("Should not match a block id as a transaction id.")
	}
}
