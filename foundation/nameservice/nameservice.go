// Package nameservice reads a folder of key files and creates a name service
// lookup for the public keys they hold.
package nameservice

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// NameService maintains a map of public keys for name lookup.
type NameService struct {
	keys  map[string]string
	names map[string]string
}

// New constructs a name service with the keys from the specified folder. A
// key file named milica.ecdsa gives its public key the name milica. A missing
// folder produces an empty name service.
func New(root string) (*NameService, error) {
	ns := NameService{
		keys:  make(map[string]string),
		names: make(map[string]string),
	}

	fn := func(fileName string, info fs.FileInfo, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipDir
			}
			return fmt.Errorf("walkdir failure: %w", err)
		}

		if path.Ext(fileName) != ".ecdsa" {
			return nil
		}

		privateKey, err := crypto.LoadECDSA(fileName)
		if err != nil {
			return err
		}

		publicKey := signature.PublicKeyHex(privateKey.PublicKey)
		name := strings.TrimSuffix(path.Base(fileName), ".ecdsa")

		ns.keys[publicKey] = name
		ns.names[name] = publicKey

		return nil
	}

	if err := filepath.Walk(root, fn); err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}

	return &ns, nil
}

// Lookup returns the name for the specified public key.
func (ns *NameService) Lookup(publicKey string) string {
	name, exists := ns.keys[publicKey]
	if !exists {
		return publicKey
	}
	return name
}

// Resolve returns the public key for a name. A value that is not a known
// name is returned as is, so public keys pass through.
func (ns *NameService) Resolve(nameOrKey string) string {
	publicKey, exists := ns.names[nameOrKey]
	if !exists {
		return nameOrKey
	}
	return publicKey
}

// Copy returns a copy of the map of public keys and names.
func (ns *NameService) Copy() map[string]string {
	cpy := make(map[string]string, len(ns.keys))
	for publicKey, name := range ns.keys {
		cpy[publicKey] = name
	}
	return cpy
}
