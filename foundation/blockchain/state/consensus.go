package state

import (
	"context"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/network"
)

// decision is the outcome of a vote round waiting to be acted upon.
type decision struct {
	item  consensus.Item
	tally consensus.Tally
}

// SubmitTransaction queues a client transaction. When nothing else is being
// decided the vote round for it starts right away.
func (s *State) SubmitTransaction(item consensus.Item) {
	s.evHandler("state: SubmitTransaction: tx[%s]: client[%s]", item.Tx.ID, item.Client)

	if _, found := s.chain.FindTransaction(item.Tx.ID); found {
		s.sendToClient(item.Client, network.TypeClientResult, network.ClientResult{
			TxID:   item.Tx.ID,
			Status: network.StatusError,
			Error:  "transaction is already committed",
		})
		return
	}

	s.queueMu.Lock()
	if s.pending.Contains(item.Tx.ID) {
		s.queueMu.Unlock()
		s.sendToClient(item.Client, network.TypeClientResult, network.ClientResult{
			TxID:   item.Tx.ID,
			Status: network.StatusError,
			Error:  "transaction is already queued",
		})
		return
	}
	current := s.pending.Push(item)
	s.queueMu.Unlock()

	if !current {
		s.evHandler("state: SubmitTransaction: tx[%s]: queued: len[%d]", item.Tx.ID, s.pending.Len())
		return
	}

	s.startRound(item)
}

// MineNewBlock mines a block for the staged transaction. The search stops
// when the context is cancelled.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	s.evHandler("state: MineNewBlock: MINING: started")
	defer s.evHandler("state: MineNewBlock: MINING: completed")

	block, err := s.chain.CreateNewBlock(ctx)
	if err != nil {
		return database.Block{}, err
	}

	s.evHandler("state: MineNewBlock: MINING: blk[%d]: hash[%s]", block.Header.Height, block.Header.BlockHash)

	return block, nil
}

// Poll decides the vote rounds that are complete or timed out and proposes
// the block this node mined, if any. The worker calls it periodically.
func (s *State) Poll() {
	s.evaluateRounds()

	if block, mined := s.chain.TakeMinedBlock(); mined {
		s.proposeBlock(block)
	}
}

// =============================================================================

// startRound announces the transaction to the network and casts this node's
// vote on it.
func (s *State) startRound(item consensus.Item) {
	if !s.openRound(item) {
		return
	}

	s.evHandler("state: startRound: tx[%s]: network[%d]", item.Tx.ID, s.NetworkSize())

	s.broadcast(network.TypeVerifyTransaction, network.Submission{Tx: item.Tx, Record: item.Record})
	s.castVote(item)
}

// openRound registers a round for the transaction. It reports false when the
// round is already open or was decided.
func (s *State) openRound(item consensus.Item) bool {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	if _, exists := s.rounds[item.Tx.ID]; exists || s.votes.IsClosed(item.Tx.ID) {
		return false
	}

	s.rounds[item.Tx.ID] = round{item: item, opened: time.Now()}

	return true
}

// castVote validates the transaction against this node's registry and the
// record that travelled with it and shares the verdict.
func (s *State) castVote(item consensus.Item) {
	verdict := true
	if err := item.Tx.Check(s.registry, item.Record); err != nil {
		s.evHandler("state: castVote: tx[%s]: INVALID: %s", item.Tx.ID, err)
		verdict = false
	}

	vote := consensus.Vote{
		TxID:   item.Tx.ID,
		PeerID: s.id,
		Vote:   verdict,
	}
	s.votes.Add(vote)

	s.evHandler("state: castVote: tx[%s]: vote[%t]", item.Tx.ID, verdict)

	s.broadcast(network.TypeTransactionVote, vote)
}

// handleVerifyTransaction joins a round started by another node.
func (s *State) handleVerifyTransaction(senderID string, sub network.Submission) {
	s.evHandler("state: handleVerifyTransaction: sender[%s]: tx[%s]", senderID, sub.Tx.ID)

	item := consensus.Item{Tx: sub.Tx, Record: sub.Record}
	if !s.openRound(item) {
		return
	}

	s.castVote(item)
}

func (s *State) handleTransactionVote(vote consensus.Vote) {
	if !s.votes.Add(vote) {
		return
	}

	s.evHandler("state: handleTransactionVote: tx[%s]: peer[%s]: vote[%t]: votes[%d]", vote.TxID, vote.PeerID, vote.Vote, s.votes.Count(vote.TxID))
}

// =============================================================================

// evaluateRounds closes every round that heard from the whole network or ran
// out of time. Votes that never arrived count against the transaction.
func (s *State) evaluateRounds() {
	size := s.NetworkSize()

	var decided []decision

	s.roundMu.Lock()
	for txID, r := range s.rounds {
		if s.votes.Count(txID) < size && time.Since(r.opened) < s.voteTimeout {
			continue
		}

		tally := s.votes.Tally(txID, size)
		tally.Negative = size - tally.Positive

		decided = append(decided, decision{item: r.item, tally: tally})

		delete(s.rounds, txID)
		s.votes.Close(txID)
	}
	s.roundMu.Unlock()

	for _, d := range decided {
		if d.tally.Accepted() {
			s.acceptTransaction(d.item, d.tally)
			continue
		}
		s.rejectTransaction(d.item, d.tally)
	}
}

// acceptTransaction lines the transaction up for mining.
func (s *State) acceptTransaction(item consensus.Item, tally consensus.Tally) {
	s.evHandler("state: acceptTransaction: tx[%s]: ACCEPTED: positive[%d]: required[%d]", item.Tx.ID, tally.Positive, tally.Required)

	if _, found := s.chain.FindTransaction(item.Tx.ID); found {
		return
	}

	s.queueMu.Lock()
	current := s.accepted.Push(item)
	s.queueMu.Unlock()

	if current {
		s.stageAndMine(item)
	}
}

// rejectTransaction reports the outcome to the client and moves the queue
// along when this node originated the transaction.
func (s *State) rejectTransaction(item consensus.Item, tally consensus.Tally) {
	s.evHandler("state: rejectTransaction: tx[%s]: REJECTED: positive[%d]: required[%d]", item.Tx.ID, tally.Positive, tally.Required)

	s.queueMu.Lock()
	cur, exists := s.pending.Current()
	if !exists || cur.Tx.ID != item.Tx.ID {
		s.queueMu.Unlock()
		return
	}
	next, hasNext := s.pending.Done(item.Tx.ID)
	s.queueMu.Unlock()

	s.sendToClient(cur.Client, network.TypeClientResult, network.ClientResult{
		TxID:   item.Tx.ID,
		Status: network.StatusRejected,
		Tally:  &tally,
	})

	if hasNext {
		s.startRound(next)
	}
}

// stageAndMine stages the accepted transaction and signals the worker to
// mine it. Transactions this node can't stage are dropped in favor of the
// next accepted one, a peer that can validate them will mine them.
func (s *State) stageAndMine(item consensus.Item) {
	for {
		if s.chain.AddTransaction(item.Tx, item.Record) {
			break
		}

		s.evHandler("state: stageAndMine: tx[%s]: unable to stage: waiting for peers", item.Tx.ID)

		s.queueMu.Lock()
		next, hasNext := s.accepted.Done(item.Tx.ID)
		s.queueMu.Unlock()

		if !hasNext {
			return
		}
		item = next
	}

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}
}
