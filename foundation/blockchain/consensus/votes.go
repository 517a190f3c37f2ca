// Package consensus provides the primitives the node uses to reach agreement:
// the transaction vote tally, the block candidate set and the pending queue.
package consensus

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
)

// closedRounds is the number of finished rounds remembered so late votes
// don't open them again.
const closedRounds = 1024

// RequiredVotes returns the number of positive votes needed to accept a
// transaction: floor(networkSize * 0.51) + 1.
func RequiredVotes(networkSize int) int {
	if networkSize < 1 {
		networkSize = 1
	}

	return networkSize*51/100 + 1
}

// Vote is a node's verdict on a transaction.
type Vote struct {
	TxID   string `json:"tx_id" validate:"required"`
	PeerID string `json:"id" validate:"required"`
	Vote   bool   `json:"vote"`
}

// Tally is the result of counting a round.
type Tally struct {
	Positive int `json:"positive"`
	Negative int `json:"negative"`
	Required int `json:"required"`
	Network  int `json:"network"`
}

// Accepted reports whether the positive votes reach the requirement.
func (t Tally) Accepted() bool {
	return t.Positive >= t.Required
}

// Votes returns the number of votes counted.
func (t Tally) Votes() int {
	return t.Positive + t.Negative
}

// =============================================================================

type round struct {
	opened time.Time
	votes  map[string]bool
}

// VoteBox accumulates votes per transaction id. Each peer id is counted once
// per round.
type VoteBox struct {
	mu     sync.Mutex
	rounds map[string]*round
	closed *lru.Cache
}

// NewVoteBox constructs an empty vote box.
func NewVoteBox() (*VoteBox, error) {
	closed, err := lru.New(closedRounds)
	if err != nil {
		return nil, err
	}

	vb := VoteBox{
		rounds: make(map[string]*round),
		closed: closed,
	}

	return &vb, nil
}

// Add records a vote. It reports false when the peer already voted in the
// round or the round is closed.
func (vb *VoteBox) Add(v Vote) bool {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	if vb.closed.Contains(v.TxID) {
		return false
	}

	r, exists := vb.rounds[v.TxID]
	if !exists {
		r = &round{opened: time.Now(), votes: make(map[string]bool)}
		vb.rounds[v.TxID] = r
	}

	if _, voted := r.votes[v.PeerID]; voted {
		return false
	}

	r.votes[v.PeerID] = v.Vote

	return true
}

// Count returns the number of distinct voters in the round.
func (vb *VoteBox) Count(txID string) int {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	r, exists := vb.rounds[txID]
	if !exists {
		return 0
	}

	return len(r.votes)
}

// Opened returns when the first vote of the round arrived.
func (vb *VoteBox) Opened(txID string) (time.Time, bool) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	r, exists := vb.rounds[txID]
	if !exists {
		return time.Time{}, false
	}

	return r.opened, true
}

// Tally counts the round against the specified network size. Missing votes
// are not counted as positive.
func (vb *VoteBox) Tally(txID string, networkSize int) Tally {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	t := Tally{
		Required: RequiredVotes(networkSize),
		Network:  networkSize,
	}

	r, exists := vb.rounds[txID]
	if !exists {
		return t
	}

	for _, vote := range r.votes {
		if vote {
			t.Positive++
			continue
		}
		t.Negative++
	}

	return t
}

// Close drops the round and ignores any later vote for it.
func (vb *VoteBox) Close(txID string) {
	vb.mu.Lock()
	defer vb.mu.Unlock()

	delete(vb.rounds, txID)
	vb.closed.Add(txID, struct{}{})
}

// IsClosed reports whether the round was already decided.
func (vb *VoteBox) IsClosed(txID string) bool {
	return vb.closed.Contains(txID)
}
