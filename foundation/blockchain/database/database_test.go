package database_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/registry"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

type fixture struct {
	reg     *registry.Registry
	creator signature.Identity
	patient signature.Identity
	record  database.Record
	tx      database.Tx
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

	reg.Register(creator)
	reg.Register(patient)

	record := database.Record{
		"id":            "rec-00",
		"patient_id":    "987654321",
		"patient_name":  "Petar Djordjevic",
		"doctor_name":   "Dr. Jovana Petrovic",
		"doctor_id":     "doc-1",
		"hospital_name": "Dom zdravlja Novi Beograd",
		"hospital_id":   "hosp-1",
		"diagnosis":     "mild bacterial infection",
		"lab_test":      map[string]any{"CRP": "12 mg/L"},
	}

	body := database.NewTxBody(creator.PublicKey, patient.PublicKey, "records/rec-00", time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC), record)
	tx, err := body.Sign(creator)
	if err != nil {
		t.Fatalf("Should be able to sign the transaction: %s", err)
	}

	return fixture{
		reg:     reg,
		creator: creator,
		patient: patient,
		record:  record,
		tx:      tx,
	}
}

// =============================================================================

func Test_TransactionValidate(t *testing.T) {
	fx := newFixture(t)

	if err := fx.tx.Check(fx.reg, fx.record); err != nil {
		t.Fatalf("Should validate a well formed transaction: %s", err)
	}

	stranger, _ := signature.Generate()

	tt := []struct {
		name   string
		mutate func(tx *database.Tx, rec database.Record) database.Record
		exp    error
	}{
		{
			name: "unknown-creator",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				tx.Body.Creator = stranger.PublicKey
				return rec
			},
			exp: database.ErrUnknownCreator,
		},
		{
			name: "unknown-patient",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				tx.Body.Patient = stranger.PublicKey
				return rec
			},
			exp: database.ErrUnknownPatient,
		},
		{
			name: "changed-body",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				tx.Body.Date = "2025-08-02T00:00:00Z"
				return rec
			},
			exp: database.ErrInvalidSignature,
		},
		{
			name: "missing-field",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				cpy := database.Record{}
				for k, v := range rec {
					cpy[k] = v
				}
				delete(cpy, "hospital_id")
				return cpy
			},
			exp: database.ErrMissingFields,
		},
		{
			name: "changed-record",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				cpy := database.Record{}
				for k, v := range rec {
					cpy[k] = v
				}
				cpy["diagnosis"] = "something else"
				return cpy
			},
			exp: database.ErrRecordHash,
		},
		{
			name: "first-failure-wins",
			mutate: func(tx *database.Tx, rec database.Record) database.Record {
				tx.Body.Patient = stranger.PublicKey
				tx.Signature = "0x00"
				return nil
			},
			exp: database.ErrUnknownPatient,
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			tx := fx.tx
			rec := tst.mutate(&tx, fx.record)

			err := tx.Check(fx.reg, rec)
			if !errors.Is(err, tst.exp) {
				t.Logf("Test %s:\tgot: %v", tst.name, err)
				t.Logf("Test %s:\texp: %v", tst.name, tst.exp)
				t.Fatalf("Test %s:\tShould get back the right validation failure.", tst.name)
			}

			if tx.Validate(fx.reg, rec) {
				t.Fatalf("Test %s:\tShould not validate.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_SignRequiresCreator(t *testing.T) {
	fx := newFixture(t)

	if _, err := fx.tx.Body.Sign(fx.patient); err == nil {
		t.Fatalf("Should not sign a body with an identity other than the creator.")
	}
}

// =============================================================================

func Test_Mine(t *testing.T) {
	fx := newFixture(t)

	for _, difficulty := range []uint{1, 2, 3} {
		b := database.NewBlock(database.Genesis(), fx.tx, difficulty, "miner1")

		if err := b.Mine(context.Background(), nil); err != nil {
			t.Fatalf("Should be able to mine at difficulty %d: %s", difficulty, err)
		}

		if !strings.HasPrefix(b.Header.BlockHash, strings.Repeat("0", int(difficulty))) {
			t.Logf("got: %s", b.Header.BlockHash)
			t.Fatalf("Should get back a hash with %d leading zeros.", difficulty)
		}

		if b.Header.BlockHash != b.Hash() {
			t.Fatalf("Should store the hash of the mined header.")
		}

		if b.Header.TimeStamp == 0 {
			t.Fatalf("Should stamp the commit timestamp.")
		}
	}
}

func Test_MineZeroDifficulty(t *testing.T) {
	fx := newFixture(t)

	b := database.NewBlock(database.Genesis(), fx.tx, 0, "miner1")
	if err := b.Mine(context.Background(), nil); err != nil {
		t.Fatalf("Should be able to mine at difficulty 0: %s", err)
	}

	if b.Header.Nonce != 0 {
		t.Logf("got: %d", b.Header.Nonce)
		t.Fatalf("Should return immediately with the nonce unchanged.")
	}
}

func Test_MineCancel(t *testing.T) {
	fx := newFixture(t)

	// A difficulty of 64 can't be solved.
	b := database.NewBlock(database.Genesis(), fx.tx, 64, "miner1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		done <- b.Mine(ctx, nil)
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Should get back a cancellation error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Should stop mining once cancelled.")
	}
}

// =============================================================================

func Test_BlockCheck(t *testing.T) {
	fx := newFixture(t)
	genesis := database.Genesis()

	b := database.NewBlock(genesis, fx.tx, 2, "miner1")
	if err := b.Mine(context.Background(), nil); err != nil {
		t.Fatalf("Should be able to mine: %s", err)
	}

	if err := b.Check(genesis, fx.reg, fx.record); err != nil {
		t.Fatalf("Should validate a mined block: %s", err)
	}

	tt := []struct {
		name   string
		mutate func(b *database.Block)
		exp    error
	}{
		{
			name:   "prev-hash",
			mutate: func(b *database.Block) { b.Header.PrevBlockHash = strings.Repeat("1", 64) },
			exp:    database.ErrNotLinked,
		},
		{
			name:   "no-tx",
			mutate: func(b *database.Block) { b.Tx = nil },
			exp:    database.ErrNoTransaction,
		},
		{
			name:   "merkle",
			mutate: func(b *database.Block) { b.Header.MerkleRoot = strings.Repeat("a", 64) },
			exp:    database.ErrMerkleRoot,
		},
		{
			name:   "nonce",
			mutate: func(b *database.Block) { b.Header.Nonce++ },
			exp:    database.ErrBlockHash,
		},
		{
			name:   "miner",
			mutate: func(b *database.Block) { b.Header.MinerID = "miner2" },
			exp:    database.ErrBlockHash,
		},
		{
			name:   "timestamp",
			mutate: func(b *database.Block) { b.Header.TimeStamp-- },
			exp:    database.ErrBlockHash,
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			cpy := b
			tx := *b.Tx
			cpy.Tx = &tx
			tst.mutate(&cpy)

			err := cpy.Check(genesis, fx.reg, fx.record)
			if !errors.Is(err, tst.exp) {
				t.Logf("Test %s:\tgot: %v", tst.name, err)
				t.Logf("Test %s:\texp: %v", tst.name, tst.exp)
				t.Fatalf("Test %s:\tShould get back the right validation failure.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Genesis(t *testing.T) {
	g1 := database.Genesis()
	g2 := database.Genesis()

	if g1.Header.BlockHash != g2.Header.BlockHash {
		t.Fatalf("Should construct the same genesis block every time.")
	}

	if err := g1.CheckGenesis(); err != nil {
		t.Fatalf("Should validate the genesis block: %s", err)
	}

	if g1.Header.PrevBlockHash != signature.ZeroHash || g1.Header.MinerID != "" {
		t.Fatalf("Should use the sentinel values.")
	}
}
