// Package state is the core API for the node and implements the consensus
// state machine: transaction voting, the block race and its finalization.
package state

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/healthchain/ledger/foundation/blockchain/chain"
	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/peer"
	"github.com/healthchain/ledger/foundation/blockchain/registry"
)

// seenEnvelopes is the number of gossip envelope ids remembered.
const seenEnvelopes = 4096

// Set of default timings used when the configuration leaves them empty.
const (
	defQuietWindow  = 2 * time.Second
	defVoteTimeout  = 15 * time.Second
	defDialAttempts = 3
	defDialDelay    = 2 * time.Second
)

// =============================================================================

// EventHandler defines a function that is called when events
// occur in the processing of the node.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining, polling, peer connections and
// catching up with the network.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining()
	SignalConnect(address string)
	SignalSync(address string)
}

// =============================================================================

// Config represents the configuration required to start the node.
type Config struct {
	NodeID       string
	Host         string
	Storage      database.Storage
	Registry     *registry.Registry
	Difficulty   uint
	QuietWindow  time.Duration
	VoteTimeout  time.Duration
	DialAttempts int
	DialDelay    time.Duration
	EvHandler    EventHandler
}

// round is a transaction vote this node takes part in.
type round struct {
	item   consensus.Item
	opened time.Time
}

// State manages the node.
type State struct {
	id        string
	host      string
	evHandler EventHandler

	quietWindow time.Duration
	voteTimeout time.Duration
	dial        network.DialConfig

	chain      *chain.Chain
	registry   *registry.Registry
	knownPeers *peer.PeerSet
	seen       *network.Seen

	connMu   sync.RWMutex
	outgoing map[string]*network.Conn
	incoming map[string]*network.Conn
	dialing  map[string]bool

	roundMu sync.Mutex
	rounds  map[string]round
	votes   *consensus.VoteBox

	queueMu  sync.Mutex
	pending  *consensus.Queue
	accepted *consensus.Queue

	blockMu       sync.Mutex
	candidates    *consensus.CandidateSet
	finalizeTimer *time.Timer
	finalized     bool
	race          uint64

	Worker Worker
}

// NewNodeID returns a short random id for a node.
func NewNodeID() string {
	return uuid.NewString()[:8]
}

// New constructs a node for the chain held in storage.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	if cfg.Host == "" {
		return nil, errors.New("host is required")
	}

	if cfg.Registry == nil {
		return nil, errors.New("registry is required")
	}

	if cfg.NodeID == "" {
		cfg.NodeID = NewNodeID()
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = defQuietWindow
	}
	if cfg.VoteTimeout <= 0 {
		cfg.VoteTimeout = defVoteTimeout
	}
	if cfg.DialAttempts <= 0 {
		cfg.DialAttempts = defDialAttempts
	}
	if cfg.DialDelay <= 0 {
		cfg.DialDelay = defDialDelay
	}

	// Load the chain from storage. The node id doubles as the miner id.
	chn, err := chain.New(chain.Config{
		Storage:    cfg.Storage,
		Accounts:   cfg.Registry,
		Difficulty: cfg.Difficulty,
		MinerID:    cfg.NodeID,
		EvHandler:  chain.EventHandler(ev),
	})
	if err != nil {
		return nil, err
	}

	seen, err := network.NewSeen(seenEnvelopes)
	if err != nil {
		return nil, fmt.Errorf("seen cache: %w", err)
	}

	votes, err := consensus.NewVoteBox()
	if err != nil {
		return nil, fmt.Errorf("vote box: %w", err)
	}

	state := State{
		id:        cfg.NodeID,
		host:      cfg.Host,
		evHandler: ev,

		quietWindow: cfg.QuietWindow,
		voteTimeout: cfg.VoteTimeout,
		dial: network.DialConfig{
			Attempts:  cfg.DialAttempts,
			Delay:     cfg.DialDelay,
			EvHandler: ev,
		},

		chain:      chn,
		registry:   cfg.Registry,
		knownPeers: peer.NewPeerSet(),
		seen:       seen,

		outgoing: make(map[string]*network.Conn),
		incoming: make(map[string]*network.Conn),
		dialing:  make(map[string]bool),

		rounds: make(map[string]round),
		votes:  votes,

		pending:  consensus.NewQueue(),
		accepted: consensus.NewQueue(),

		candidates: consensus.NewCandidateSet(),
		finalized:  true,
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	ev("state: New: node[%s]: host[%s]: height[%d]", state.id, state.host, chn.Height())

	return &state, nil
}

// Shutdown cleanly brings the node down. The error closing the storage is
// returned.
func (s *State) Shutdown() (err error) {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Make sure the storage is properly closed.
	defer func() {
		if cerr := s.chain.Close(); cerr != nil {
			s.evHandler("state: shutdown: closing storage: ERROR: %s", cerr)
			err = fmt.Errorf("closing storage: %w", cerr)
		}
	}()

	// Stop all mining, polling and dialing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	s.blockMu.Lock()
	if s.finalizeTimer != nil {
		s.finalizeTimer.Stop()
	}
	s.blockMu.Unlock()

	s.connMu.Lock()
	conns := make([]*network.Conn, 0, len(s.outgoing)+len(s.incoming))
	for _, conn := range s.outgoing {
		conns = append(conns, conn)
	}
	for _, conn := range s.incoming {
		conns = append(conns, conn)
	}
	s.connMu.Unlock()

	for _, conn := range conns {
		conn.Close()
	}

	return nil
}

// =============================================================================

// ID returns the id of this node.
func (s *State) ID() string {
	return s.id
}

// Host returns the address this node listens on.
func (s *State) Host() string {
	return s.host
}

// Chain returns the chain owned by the node.
func (s *State) Chain() *chain.Chain {
	return s.chain
}

// Registry returns the address registry of the node.
func (s *State) Registry() *registry.Registry {
	return s.registry
}

// KnownPeers returns the peers this node has handshaken with.
func (s *State) KnownPeers() []peer.Peer {
	return s.knownPeers.Copy(s.id)
}

// NetworkSize returns the number of members of the network including this
// node.
func (s *State) NetworkSize() int {
	return s.knownPeers.Len() + 1
}

// QueueStatus returns the state of the pending transaction queue.
func (s *State) QueueStatus() consensus.QueueStatus {
	return s.pending.Status()
}

// Status returns the status of this node for peers and viewers.
func (s *State) Status() peer.PeerStatus {
	latest := s.chain.LatestBlock()

	return peer.PeerStatus{
		ID:                s.id,
		Address:           s.host,
		LatestBlockHash:   latest.Header.BlockHash,
		LatestBlockNumber: latest.Header.Height,
		KnownPeers:        s.KnownPeers(),
	}
}

// IsMiningAllowed reports whether the node may start a mining operation.
func (s *State) IsMiningAllowed() bool {
	return s.chain.CanMine()
}

// HasStaged reports whether a transaction is staged for mining.
func (s *State) HasStaged() bool {
	_, _, staged := s.chain.Staged()
	return staged
}

// IsFinalized reports whether the last block race was finalized and no new
// candidate has arrived since.
func (s *State) IsFinalized() bool {
	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	return s.finalized
}
