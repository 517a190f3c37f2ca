package state

import (
	"runtime/debug"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/network"
)

// proposeBlock enters the block this node mined into the race and shares it
// with the network.
func (s *State) proposeBlock(block database.Block) {
	tx, record, staged := s.chain.Staged()
	if !staged || block.Tx == nil || tx.ID != block.Tx.ID {
		s.evHandler("state: proposeBlock: blk[%d]: staged transaction changed: dropped", block.Header.Height)
		return
	}

	var stale bool
	panicked := s.guardRace("proposeBlock", func() {
		tip := s.chain.LatestBlock()
		if block.Header.Height != tip.Header.Height+1 {
			s.evHandler("state: proposeBlock: blk[%d]: tip[%d]: stale: dropped", block.Header.Height, tip.Header.Height)
			stale = true
			return
		}

		s.chain.StopMining()
		s.candidates.Add(consensus.Candidate{Block: block, Record: record, Sender: s.id})
		s.finalized = false
		s.scheduleFinalize()
	})

	switch {
	case panicked:
		s.restage()
		return
	case stale:
		return
	}

	s.evHandler("state: proposeBlock: blk[%d]: ts[%d]: hash[%s]: proposed", block.Header.Height, block.Header.TimeStamp, block.Header.BlockHash)

	s.broadcast(network.TypeVerifyBlock, network.BlockCandidate{Block: block, Record: record})
}

// handleVerifyBlock buffers a competitor's candidate and stops local mining.
func (s *State) handleVerifyBlock(senderID string, bc network.BlockCandidate) {
	panicked := s.guardRace("handleVerifyBlock", func() {
		tip := s.chain.LatestBlock()
		if bc.Block.Header.Height != tip.Header.Height+1 {
			s.evHandler("state: handleVerifyBlock: sender[%s]: blk[%d]: tip[%d]: ignored", senderID, bc.Block.Header.Height, tip.Header.Height)
			return
		}

		s.chain.StopMining()
		if s.Worker != nil {
			s.Worker.SignalCancelMining()
		}

		added := s.candidates.Add(consensus.Candidate{Block: bc.Block, Record: bc.Record, Sender: senderID})
		s.finalized = false
		s.scheduleFinalize()

		s.evHandler("state: handleVerifyBlock: sender[%s]: blk[%d]: ts[%d]: buffered[%t]: candidates[%d]", senderID, bc.Block.Header.Height, bc.Block.Header.TimeStamp, added, s.candidates.Len())
	})

	if panicked {
		s.restage()
	}
}

// scheduleFinalize arms the quiet window after the first candidate of a
// race. The caller must hold blockMu.
func (s *State) scheduleFinalize() {
	if s.finalizeTimer != nil {
		return
	}

	race := s.race
	s.finalizeTimer = time.AfterFunc(s.quietWindow, func() { s.finalize(race) })
}

// finalize picks the earliest valid candidate once the quiet window closed,
// commits it locally and announces it.
func (s *State) finalize(race uint64) {
	var final *network.FinalBlock
	var committed *database.Tx
	var again bool

	panicked := s.guardRace("finalize", func() {

		// A final decision from a peer may have ended the race already.
		if race != s.race || s.candidates.Len() == 0 {
			return
		}

		candidates := s.candidates.Sorted()

		var winner *consensus.Candidate
		for i, c := range candidates {
			if err := s.chain.ValidateBlock(c.Block, c.Record); err != nil {
				s.evHandler("state: finalize: blk[%d]: sender[%s]: INVALID: %s", c.Block.Header.Height, c.Sender, err)
				continue
			}
			winner = &candidates[i]
			break
		}

		if winner == nil {
			s.resetBlockConsensus()
			s.evHandler("state: finalize: no valid candidate: mining again")
			again = true
			return
		}

		s.evHandler("state: finalize: blk[%d]: winner[%s]: ts[%d]: candidates[%d]", winner.Block.Header.Height, winner.Sender, winner.Block.Header.TimeStamp, len(candidates))

		// Only a block this node appended is announced.
		if committed = s.commitBlock(winner.Block); committed == nil {
			again = true
			return
		}

		final = &network.FinalBlock{
			Block:            winner.Block,
			Record:           winner.Record,
			WinningSender:    winner.Sender,
			TotalBlocks:      len(candidates),
			Finalizer:        s.id,
			FinalizerAddress: s.host,
		}
	})

	switch {
	case panicked, again:
		s.restage()
	case final != nil:
		s.broadcast(network.TypeFinalBlockConsensus, *final)
		s.afterCommit(committed)
	}
}

// handleFinalBlock commits the winner another node finalized. A node that is
// more than one block behind asks the finalizer for its chain instead.
func (s *State) handleFinalBlock(fb network.FinalBlock) {
	var committed *database.Tx
	var behind, again, done bool

	panicked := s.guardRace("handleFinalBlock", func() {
		tip := s.chain.LatestBlock().Header.Height

		switch height := fb.Block.Header.Height; {
		case height > tip+1:
			s.evHandler("state: handleFinalBlock: finalizer[%s]: blk[%d]: tip[%d]: behind", fb.Finalizer, height, tip)
			behind = true
			return

		case height != tip+1:
			s.evHandler("state: handleFinalBlock: finalizer[%s]: blk[%d]: tip[%d]: ignored", fb.Finalizer, height, tip)
			return
		}

		if err := s.chain.ValidateBlock(fb.Block, fb.Record); err != nil {
			s.resetBlockConsensus()
			s.evHandler("state: handleFinalBlock: finalizer[%s]: blk[%d]: INVALID: %s", fb.Finalizer, fb.Block.Header.Height, err)
			again = true
			return
		}

		s.evHandler("state: handleFinalBlock: finalizer[%s]: blk[%d]: winner[%s]: candidates[%d]", fb.Finalizer, fb.Block.Header.Height, fb.WinningSender, fb.TotalBlocks)

		committed = s.commitBlock(fb.Block)
		done = true
	})

	switch {
	case panicked, again:
		s.restage()
	case behind:
		s.requestSync(fb)
	case done:
		s.afterCommit(committed)
	}
}

// requestSync asks the worker to pull the chain from the node that
// finalized the block.
func (s *State) requestSync(fb network.FinalBlock) {
	address := fb.FinalizerAddress
	if address == "" {
		p, found := s.knownPeers.Get(fb.Finalizer)
		if !found {
			s.evHandler("state: requestSync: finalizer[%s]: address unknown", fb.Finalizer)
			return
		}
		address = p.Address
	}

	if address == s.host || s.Worker == nil {
		return
	}

	s.Worker.SignalSync(address)
}

// =============================================================================

// guardRace runs the function holding blockMu. A panic is logged and the
// race is reset so the node carries on. It reports whether fn panicked.
func (s *State) guardRace(where string, fn func()) (panicked bool) {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.evHandler("state: %s: PANIC[%v]: TRACE[%s]", where, r, string(debug.Stack()))
			s.resetBlockConsensus()
			panicked = true
		}
	}()

	fn()

	return false
}

// commitBlock appends the block and closes the race. The caller must hold
// blockMu. The committed transaction is returned, nil when the append failed.
func (s *State) commitBlock(block database.Block) *database.Tx {
	defer s.resetBlockConsensus()

	if err := s.chain.AddBlockToChain(block); err != nil {
		s.evHandler("state: commitBlock: blk[%d]: ERROR: %s", block.Header.Height, err)
		return nil
	}

	tx := *block.Tx

	s.closeRound(tx.ID)

	func() {
		s.queueMu.Lock()
		defer s.queueMu.Unlock()

		if !s.accepted.Remove(tx.ID) {
			s.accepted.Done(tx.ID)
		}
	}()

	s.evHandler("state: commitBlock: blk[%d]: tx[%s]: COMMITTED", block.Header.Height, tx.ID)

	return &tx
}

// closeRound forgets the vote round of a committed transaction.
func (s *State) closeRound(txID string) {
	s.roundMu.Lock()
	defer s.roundMu.Unlock()

	delete(s.rounds, txID)
	s.votes.Close(txID)
}

// afterCommit reports the outcome to the originating client, moves the
// pending queue along and restarts mining for any accepted transaction.
func (s *State) afterCommit(tx *database.Tx) {
	if tx != nil {
		latest := s.chain.LatestBlock()

		s.queueMu.Lock()
		cur, exists := s.pending.Current()
		var next consensus.Item
		var hasNext bool
		if exists && cur.Tx.ID == tx.ID {
			next, hasNext = s.pending.Done(tx.ID)
		}
		s.queueMu.Unlock()

		if exists && cur.Tx.ID == tx.ID {
			s.sendToClient(cur.Client, network.TypeClientResult, network.ClientResult{
				TxID:      tx.ID,
				Status:    network.StatusAccepted,
				Height:    latest.Header.Height,
				BlockHash: latest.Header.BlockHash,
			})
		}

		if hasNext {
			s.startRound(next)
		}
	}

	s.restage()
}

// settleCommitted drops the queued transactions a replaced chain already
// commits. The originating clients of those transactions get their result.
func (s *State) settleCommitted() {
	s.roundMu.Lock()
	for txID := range s.rounds {
		if _, found := s.chain.FindTransaction(txID); found {
			delete(s.rounds, txID)
			s.votes.Close(txID)
		}
	}
	s.roundMu.Unlock()

	type settled struct {
		item  consensus.Item
		block database.Block
	}
	var results []settled
	var next consensus.Item
	var hasNext bool

	s.queueMu.Lock()
	{
		for _, txID := range s.accepted.Status().Pending {
			if _, found := s.chain.FindTransaction(txID); found {
				s.accepted.Remove(txID)
			}
		}

		for {
			cur, exists := s.accepted.Current()
			if !exists {
				break
			}
			if _, found := s.chain.FindTransaction(cur.Tx.ID); !found {
				break
			}
			s.accepted.Done(cur.Tx.ID)
		}

		for {
			cur, exists := s.pending.Current()
			if !exists {
				break
			}
			block, found := s.chain.FindTransaction(cur.Tx.ID)
			if !found {
				break
			}
			results = append(results, settled{item: cur, block: block})
			next, hasNext = s.pending.Done(cur.Tx.ID)
		}
	}
	s.queueMu.Unlock()

	for _, r := range results {
		s.evHandler("state: settleCommitted: tx[%s]: blk[%d]: COMMITTED", r.item.Tx.ID, r.block.Header.Height)

		s.sendToClient(r.item.Client, network.TypeClientResult, network.ClientResult{
			TxID:      r.item.Tx.ID,
			Status:    network.StatusAccepted,
			Height:    r.block.Header.Height,
			BlockHash: r.block.Header.BlockHash,
		})
	}

	if hasNext {
		s.startRound(next)
	}
}

// restage stages the accepted transaction at the head of the line, if any,
// and starts mining it again.
func (s *State) restage() {
	s.chain.ResetMining()

	s.queueMu.Lock()
	item, exists := s.accepted.Current()
	s.queueMu.Unlock()

	if !exists {
		return
	}

	s.stageAndMine(item)
}

// resetBlockConsensus clears the race. The caller must hold blockMu.
func (s *State) resetBlockConsensus() {
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
		s.finalizeTimer = nil
	}

	s.candidates.Reset()
	s.finalized = true
	s.race++
}
