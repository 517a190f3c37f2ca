// Package peer maintains the peer related information such as the set
// of known peers and their status.
package peer

import (
	"sort"
	"sync"
)

// Peer represents information about a Node in the network.
type Peer struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// New contructs a new peer value.
func New(id string, address string) Peer {
	return Peer{
		ID:      id,
		Address: address,
	}
}

// Match validates if the specified id matches this node.
func (p Peer) Match(id string) bool {
	return p.ID == id
}

// =============================================================================

// PeerStatus represents information about the status
// of any given peer.
type PeerStatus struct {
	ID                string `json:"id"`
	Address           string `json:"address"`
	LatestBlockHash   string `json:"latest_block_hash"`
	LatestBlockNumber uint64 `json:"latest_block_number"`
	KnownPeers        []Peer `json:"known_peers"`
}

// =============================================================================

// PeerSet represents the data representation to maintain a set of known peers
// keyed by their node id.
type PeerSet struct {
	mu  sync.RWMutex
	set map[string]Peer
}

// NewPeerSet constructs a new info set to manage node peer information.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		set: make(map[string]Peer),
	}
}

// Add adds a new node to the set. It reports false if the id was already
// known, in which case the address is refreshed.
func (ps *PeerSet) Add(peer Peer) bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	_, exists := ps.set[peer.ID]
	ps.set[peer.ID] = peer

	return !exists
}

// Remove removes a node from the set.
func (ps *PeerSet) Remove(id string) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	delete(ps.set, id)
}

// Get returns the peer for the specified id.
func (ps *PeerSet) Get(id string) (Peer, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	peer, exists := ps.set[id]
	return peer, exists
}

// HasAddress reports whether any known peer listens on the address.
func (ps *PeerSet) HasAddress(address string) bool {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	for _, peer := range ps.set {
		if peer.Address == address {
			return true
		}
	}

	return false
}

// Len returns the number of known peers.
func (ps *PeerSet) Len() int {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	return len(ps.set)
}

// Copy returns a list of the known peers, excluding the specified id,
// ordered by id.
func (ps *PeerSet) Copy(id string) []Peer {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	var peers []Peer
	for _, peer := range ps.set {
		if !peer.Match(id) {
			peers = append(peers, peer)
		}
	}

	sort.Slice(peers, func(i, j int) bool { return peers[i].ID < peers[j].ID })

	return peers
}
