package consensus

import (
	"sort"

	"github.com/healthchain/ledger/foundation/blockchain/database"
)

// Candidate is a mined block competing in the race along with the external
// record needed to validate it.
type Candidate struct {
	Block  database.Block  `json:"block"`
	Record database.Record `json:"record"`
	Sender string          `json:"sender"`
}

// CandidateSet holds the blocks received during a race keyed by their commit
// timestamp. The set is not safe for concurrent use, the node guards it with
// its consensus lock.
type CandidateSet struct {
	byTime map[int64]Candidate
}

// NewCandidateSet constructs an empty candidate set.
func NewCandidateSet() *CandidateSet {
	return &CandidateSet{
		byTime: make(map[int64]Candidate),
	}
}

// Add stores the candidate. When a block with the same timestamp is already
// held, the one with the lexically smaller miner id is kept, then the one
// with the smaller hash. It reports whether the candidate was stored.
func (cs *CandidateSet) Add(c Candidate) bool {
	ts := c.Block.Header.TimeStamp

	cur, exists := cs.byTime[ts]
	if !exists {
		cs.byTime[ts] = c
		return true
	}

	if !less(c, cur) {
		return false
	}

	cs.byTime[ts] = c
	return true
}

// Len returns the number of candidates held.
func (cs *CandidateSet) Len() int {
	return len(cs.byTime)
}

// Sorted returns the candidates from the earliest timestamp to the latest.
func (cs *CandidateSet) Sorted() []Candidate {
	list := make([]Candidate, 0, len(cs.byTime))
	for _, c := range cs.byTime {
		list = append(list, c)
	}

	sort.Slice(list, func(i, j int) bool { return less(list[i], list[j]) })

	return list
}

// Winner returns the candidate with the earliest timestamp.
func (cs *CandidateSet) Winner() (Candidate, bool) {
	list := cs.Sorted()
	if len(list) == 0 {
		return Candidate{}, false
	}

	return list[0], true
}

// Reset drops every candidate.
func (cs *CandidateSet) Reset() {
	cs.byTime = make(map[int64]Candidate)
}

// less orders candidates by timestamp, miner id and block hash.
func less(a, b Candidate) bool {
	ha, hb := a.Block.Header, b.Block.Header

	switch {
	case ha.TimeStamp != hb.TimeStamp:
		return ha.TimeStamp < hb.TimeStamp
	case ha.MinerID != hb.MinerID:
		return ha.MinerID < hb.MinerID
	default:
		return ha.BlockHash < hb.BlockHash
	}
}
