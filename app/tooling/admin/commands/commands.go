// Package commands contains the functionality for the set of commands
// currently supported by the admin tool.
package commands

import (
	"errors"
	"fmt"

	"github.com/healthchain/ledger/foundation/blockchain/chain"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/registry"
	"github.com/healthchain/ledger/foundation/blockchain/storage/disk"
	"github.com/healthchain/ledger/foundation/blockchain/storage/kvstore"
	"github.com/healthchain/ledger/foundation/nameservice"
	"go.uber.org/zap"
)

// Chain reads the blocks a node stored, validates them and prints a line
// per block.
func Chain(args []string, log *zap.SugaredLogger) error {
	if len(args) != 4 {
		return errors.New("usage: admin chain <disk|badger> <path>")
	}

	strg, err := open(args[2], args[3])
	if err != nil {
		return err
	}
	defer strg.Close()

	var blocks []database.Block
	iter := strg.ForEach()
	for block, err := iter.Next(); !iter.Done(); block, err = iter.Next() {
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}

	for _, block := range blocks {
		var txID string
		if block.Tx != nil {
			txID = block.Tx.ID
		}
		fmt.Printf("Height: %d  Hash: %s  Miner: %s  Tx: %s\n", block.Header.Height, block.Header.BlockHash, block.Header.MinerID, txID)
	}

	if err := chain.Validate(blocks); err != nil {
		return err
	}

	log.Infow("chain", "status", "valid", "blocks", len(blocks))

	return nil
}

// Accounts prints the public keys held in a registry file. When a folder of
// key files is specified the accounts are printed with their names.
func Accounts(args []string) error {
	if len(args) != 3 && len(args) != 4 {
		return errors.New("usage: admin accounts <registry-file> [keys-folder]")
	}

	reg, err := registry.New(args[2])
	if err != nil {
		return err
	}

	var folder string
	if len(args) == 4 {
		folder = args[3]
	}

	ns, err := nameservice.New(folder)
	if err != nil {
		return err
	}

	for _, acct := range reg.Copy() {
		fmt.Printf("Account: %s  Name: %s  Private: %t\n", acct.PublicKey, ns.Lookup(acct.PublicKey), acct.PrivateKey != "")
	}

	return nil
}

func open(kind string, path string) (database.Storage, error) {
	switch kind {
	case "disk":
		return disk.New(path)
	case "badger":
		return kvstore.New(path)
	}

	return nil, fmt.Errorf("unknown storage %q", kind)
}
