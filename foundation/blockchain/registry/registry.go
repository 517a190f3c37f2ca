// Package registry maintains the per-node address registry. The registry is
// the list of known public keys and is only used for existence checks when
// transactions are validated.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// Registry manages the set of accounts known to this node.
type Registry struct {
	mu       sync.RWMutex
	path     string
	accounts []signature.Identity
	index    map[string]int
}

// New constructs a registry backed by the specified file. If the file exists
// its accounts are loaded. An empty path keeps the registry in memory only.
func New(path string) (*Registry, error) {
	reg := Registry{
		path:  path,
		index: make(map[string]int),
	}

	if path == "" {
		return &reg, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating registry folder: %w", err)
	}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return &reg, nil
	case err != nil:
		return nil, fmt.Errorf("reading registry: %w", err)
	}

	// An empty or damaged file starts the registry over, the same as a
	// missing one. The next write replaces it.
	var accounts []signature.Identity
	if err := json.Unmarshal(data, &accounts); err != nil {
		return &reg, nil
	}

	for _, acct := range accounts {
		reg.add(acct)
	}

	return &reg, nil
}

// PathFor returns the registry file used by a node listening on host. There
// is one file per listening port.
func PathFor(folder string, host string) string {
	_, port, err := net.SplitHostPort(host)
	if err != nil || port == "" {
		port = "default"
	}

	return filepath.Join(folder, port+".json")
}

// Exists reports whether the public key is registered.
func (r *Registry) Exists(publicKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.index[publicKey]
	return exists
}

// Lookup returns the account for the public key.
func (r *Registry) Lookup(publicKey string) (signature.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, exists := r.index[publicKey]
	if !exists {
		return signature.Identity{}, false
	}

	return r.accounts[i], true
}

// Register appends the account to the registry and persists it. It reports
// false if the public key was already registered.
func (r *Registry) Register(id signature.Identity) (bool, error) {
	if id.PublicKey == "" {
		return false, errors.New("public key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.add(id) {
		return false, nil
	}

	return true, r.persist()
}

// Merge registers every account not already known and returns the number of
// accounts that were added.
func (r *Registry) Merge(ids []signature.Identity) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var added int
	for _, id := range ids {
		if id.PublicKey == "" {
			continue
		}
		if r.add(id) {
			added++
		}
	}

	if added == 0 {
		return 0, nil
	}

	return added, r.persist()
}

// Copy returns a copy of all the accounts in registration order.
func (r *Registry) Copy() []signature.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]signature.Identity, len(r.accounts))
	copy(accounts, r.accounts)
	return accounts
}

// Public returns all the accounts with the private keys removed. This is what
// is shared with other nodes.
func (r *Registry) Public() []signature.Identity {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]signature.Identity, len(r.accounts))
	for i, acct := range r.accounts {
		accounts[i] = signature.Identity{PublicKey: acct.PublicKey}
	}
	return accounts
}

// Len returns the number of registered accounts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.accounts)
}

// =============================================================================

// add must be called with the lock held. A private key learned later is
// kept on the existing entry.
func (r *Registry) add(id signature.Identity) bool {
	if i, exists := r.index[id.PublicKey]; exists {
		if r.accounts[i].PrivateKey == "" && id.PrivateKey != "" {
			r.accounts[i].PrivateKey = id.PrivateKey
		}
		return false
	}

	r.index[id.PublicKey] = len(r.accounts)
	r.accounts = append(r.accounts, id)
	return true
}

// persist must be called with the lock held.
func (r *Registry) persist() error {
	if r.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(r.accounts, "", "    ")
	if err != nil {
		return err
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("writing registry: %w", err)
	}

	return os.Rename(tmp, r.path)
}
