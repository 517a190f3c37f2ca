package consensus_test

import (
	"fmt"
	"testing"

	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/stretchr/testify/require"
)

func Test_RequiredVotes(t *testing.T) {
	tt := []struct {
		network  int
		required int
	}{
		{1, 1},
		{2, 2},
		{3, 2},
		{4, 3},
		{5, 3},
		{10, 6},
		{100, 52},
	}

	for _, tst := range tt {
		t.Run(fmt.Sprintf("network-%d", tst.network), func(t *testing.T) {
			require.Equal(t, tst.required, consensus.RequiredVotes(tst.network))
		})
	}
}

func Test_VoteBox(t *testing.T) {
	vb, err := consensus.NewVoteBox()
	require.NoError(t, err)

	require.True(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "a", Vote: true}))
	require.True(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "b", Vote: true}))
	require.True(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "c", Vote: false}))

	// A peer is counted once even if it changes its mind.
	require.False(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "a", Vote: true}))
	require.False(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "c", Vote: true}))

	// Votes for another round don't pollute this one.
	require.True(t, vb.Add(consensus.Vote{TxID: "tx2", PeerID: "a", Vote: false}))

	require.Equal(t, 3, vb.Count("tx1"))

	tally := vb.Tally("tx1", 3)
	require.Equal(t, 2, tally.Positive)
	require.Equal(t, 1, tally.Negative)
	require.Equal(t, 2, tally.Required)
	require.True(t, tally.Accepted())

	_, opened := vb.Opened("tx1")
	require.True(t, opened)

	vb.Close("tx1")
	require.True(t, vb.IsClosed("tx1"))
	require.Equal(t, 0, vb.Count("tx1"))
	require.False(t, vb.Add(consensus.Vote{TxID: "tx1", PeerID: "d", Vote: true}))
}

func Test_VoteBoxRejected(t *testing.T) {
	vb, err := consensus.NewVoteBox()
	require.NoError(t, err)

	vb.Add(consensus.Vote{TxID: "tx1", PeerID: "a", Vote: false})
	vb.Add(consensus.Vote{TxID: "tx1", PeerID: "b", Vote: false})
	vb.Add(consensus.Vote{TxID: "tx1", PeerID: "c", Vote: true})

	tally := vb.Tally("tx1", 3)
	require.False(t, tally.Accepted())
	require.Equal(t, 3, tally.Votes())
}

// =============================================================================

func candidate(ts int64, miner string, hash string) consensus.Candidate {
	return consensus.Candidate{
		Block: database.Block{
			Header: database.BlockHeader{
				TimeStamp: ts,
				MinerID:   miner,
				BlockHash: hash,
			},
		},
		Sender: miner,
	}
}

func Test_CandidateWinner(t *testing.T) {
	early := candidate(100, "node-b", "bb")
	late := candidate(200, "node-a", "aa")

	orders := [][]consensus.Candidate{
		{early, late},
		{late, early},
	}

	for i, order := range orders {
		t.Run(fmt.Sprintf("order-%d", i), func(t *testing.T) {
			cs := consensus.NewCandidateSet()
			for _, c := range order {
				require.True(t, cs.Add(c))
			}

			winner, ok := cs.Winner()
			require.True(t, ok)
			require.Equal(t, int64(100), winner.Block.Header.TimeStamp)
			require.Equal(t, "node-b", winner.Block.Header.MinerID)
		})
	}
}

func Test_CandidateTieBreak(t *testing.T) {
	cs := consensus.NewCandidateSet()

	require.True(t, cs.Add(candidate(100, "node-c", "cc")))
	require.True(t, cs.Add(candidate(100, "node-a", "ff")))
	require.False(t, cs.Add(candidate(100, "node-b", "00")))
	require.True(t, cs.Add(candidate(100, "node-a", "00")))

	require.Equal(t, 1, cs.Len())

	winner, ok := cs.Winner()
	require.True(t, ok)
	require.Equal(t, "node-a", winner.Block.Header.MinerID)
	require.Equal(t, "00", winner.Block.Header.BlockHash)

	cs.Reset()
	_, ok = cs.Winner()
	require.False(t, ok)
}

func Test_CandidateSorted(t *testing.T) {
	cs := consensus.NewCandidateSet()
	cs.Add(candidate(300, "c", "3"))
	cs.Add(candidate(100, "a", "1"))
	cs.Add(candidate(200, "b", "2"))

	sorted := cs.Sorted()
	require.Len(t, sorted, 3)
	require.Equal(t, "a", sorted[0].Sender)
	require.Equal(t, "b", sorted[1].Sender)
	require.Equal(t, "c", sorted[2].Sender)
}

// =============================================================================

func item(id string) consensus.Item {
	return consensus.Item{Tx: database.Tx{ID: id}}
}

func Test_Queue(t *testing.T) {
	q := consensus.NewQueue()

	require.False(t, q.Status().Busy)

	require.True(t, q.Push(item("tx1")))
	require.False(t, q.Push(item("tx2")))
	require.False(t, q.Push(item("tx3")))
	require.False(t, q.Push(item("tx2")))
	require.Equal(t, 3, q.Len())

	status := q.Status()
	require.True(t, status.Busy)
	require.Equal(t, "tx1", status.Current)
	require.Equal(t, []string{"tx2", "tx3"}, status.Pending)

	// Only the current item can be completed.
	_, ok := q.Done("tx3")
	require.False(t, ok)

	next, ok := q.Done("tx1")
	require.True(t, ok)
	require.Equal(t, "tx2", next.Tx.ID)

	require.True(t, q.Remove("tx3"))
	require.False(t, q.Contains("tx3"))

	_, ok = q.Done("tx2")
	require.False(t, ok)

	_, ok = q.Current()
	require.False(t, ok)
	require.Equal(t, 0, q.Len())
}
