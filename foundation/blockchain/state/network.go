package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/peer"
)

// bootstrapWait is how long a joining node waits for the chain from the
// bootstrap peer.
const bootstrapWait = 30 * time.Second

// HandleConn serves a connection accepted by the node's listener until it
// closes. Peers and clients both arrive here.
func (s *State) HandleConn(conn *network.Conn) {
	s.connMu.Lock()
	s.incoming[conn.ID] = conn
	s.connMu.Unlock()

	s.evHandler("state: HandleConn: incoming: conn[%s]: remote[%s]", conn.ID, conn.Address)

	defer func() {
		s.connMu.Lock()
		delete(s.incoming, conn.ID)
		s.connMu.Unlock()

		conn.Close()
		s.evHandler("state: HandleConn: incoming: conn[%s]: closed", conn.ID)
	}()

	s.readLoop(conn)
}

// Connect dials the node at the address, introduces this node and serves the
// outgoing connection until it closes. When the connection drops the peer is
// forgotten.
func (s *State) Connect(ctx context.Context, address string) error {
	if address == s.host {
		return nil
	}

	s.connMu.Lock()
	if _, exists := s.outgoing[address]; exists || s.dialing[address] {
		s.connMu.Unlock()
		return nil
	}
	s.dialing[address] = true
	s.connMu.Unlock()

	conn, err := network.Dial(ctx, address, s.dial)

	s.connMu.Lock()
	delete(s.dialing, address)
	if err == nil {
		s.outgoing[address] = conn
	}
	s.connMu.Unlock()

	if err != nil {
		s.evHandler("state: Connect: %s: ERROR: %s", address, err)
		return err
	}

	s.evHandler("state: Connect: outgoing: %s: connected", address)

	defer func() {
		s.connMu.Lock()
		delete(s.outgoing, address)
		s.connMu.Unlock()

		conn.Close()
		s.dropPeerAt(address)
		s.evHandler("state: Connect: outgoing: %s: closed", address)
	}()

	hs := network.Handshake{PeerID: s.id, Address: s.host}
	if err := conn.SendPayload(network.TypeHandshake, s.id, hs); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}

	peers := append(network.Peers(s.KnownPeers()), peer.New(s.id, s.host))
	if err := conn.SendPayload(network.TypePeers, s.id, peers); err != nil {
		return fmt.Errorf("peers: %w", err)
	}

	s.readLoop(conn)

	return nil
}

// Bootstrap pulls the chain and the public accounts from the node at the
// address. The received chain replaces the local one when it is valid and
// longer.
func (s *State) Bootstrap(ctx context.Context, address string) error {
	s.evHandler("state: Bootstrap: started: %s", address)
	defer s.evHandler("state: Bootstrap: completed: %s", address)

	data, err := s.fetchData(ctx, address)
	if err != nil {
		return err
	}

	s.blockMu.Lock()
	defer s.blockMu.Unlock()

	_, err = s.adoptData(data)
	return err
}

// Sync catches the node up with the chain held by the node at the address.
// The race for the old tip is abandoned and the queued transactions the new
// chain already commits are settled before mining starts again.
func (s *State) Sync(ctx context.Context, address string) error {
	s.evHandler("state: Sync: started: %s", address)
	defer s.evHandler("state: Sync: completed: %s", address)

	data, err := s.fetchData(ctx, address)
	if err != nil {
		return err
	}

	var replaced bool
	panicked := s.guardRace("Sync", func() {
		if replaced, err = s.adoptData(data); err != nil || !replaced {
			return
		}

		if s.Worker != nil {
			s.Worker.SignalCancelMining()
		}
		s.resetBlockConsensus()
	})

	switch {
	case panicked:
		s.restage()
		return errors.New("sync aborted")
	case err != nil:
		return err
	case !replaced:
		return nil
	}

	s.settleCommitted()
	s.restage()

	return nil
}

// fetchData asks the node at the address for its chain and accounts.
func (s *State) fetchData(ctx context.Context, address string) (*network.ReceiveData, error) {
	conn, err := network.Dial(ctx, address, s.dial)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SendPayload(network.TypeGetData, s.id, nil); err != nil {
		return nil, fmt.Errorf("get data: %w", err)
	}

	type result struct {
		data *network.ReceiveData
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		for {
			env, err := conn.Receive()
			if err != nil {
				if errors.Is(err, network.ErrMalformed) {
					continue
				}
				ch <- result{err: err}
				return
			}

			if env.Type != network.TypeReceiveData {
				continue
			}

			payload, err := env.Decode()
			if err != nil {
				ch <- result{err: err}
				return
			}

			ch <- result{data: payload.(*network.ReceiveData)}
			return
		}
	}()

	var res result
	select {
	case res = <-ch:
	case <-time.After(bootstrapWait):
		return nil, errors.New("timed out waiting for chain data")
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if res.err != nil {
		return nil, fmt.Errorf("receive data: %w", res.err)
	}

	return res.data, nil
}

// adoptData merges the received accounts and replaces the chain when the
// received one is longer. It reports whether the chain was replaced. The
// caller must hold blockMu.
func (s *State) adoptData(data *network.ReceiveData) (bool, error) {
	added, err := s.registry.Merge(data.Accounts)
	if err != nil {
		return false, fmt.Errorf("merge accounts: %w", err)
	}
	s.evHandler("state: adoptData: accounts: received[%d]: added[%d]", len(data.Accounts), added)

	blocks := data.Chain
	if uint64(len(blocks)) <= s.chain.Height()+1 {
		s.evHandler("state: adoptData: chain: received[%d]: local is up to date", len(blocks))
		return false, nil
	}

	if err := s.chain.Replace(blocks); err != nil {
		return false, fmt.Errorf("replace chain: %w", err)
	}

	s.evHandler("state: adoptData: chain: replaced: height[%d]", s.chain.Height())

	return true, nil
}

// =============================================================================

// readLoop receives envelopes until the connection fails. Frames that don't
// decode are logged and skipped.
func (s *State) readLoop(conn *network.Conn) {
	for {
		env, err := conn.Receive()
		if err != nil {
			if errors.Is(err, network.ErrMalformed) {
				s.evHandler("state: readLoop: conn[%s]: WARNING: %s", conn.ID, err)
				continue
			}
			return
		}

		s.dispatch(conn, env)
	}
}

// broadcast sends a new envelope to every outgoing connection.
func (s *State) broadcast(typ network.Type, payload any) {
	env, err := network.NewEnvelope(typ, s.id, payload)
	if err != nil {
		s.evHandler("state: broadcast: %s: ERROR: %s", typ, err)
		return
	}

	// Our own gossip will come back to us through the peers.
	s.seen.Mark(env.ID)

	s.sendToPeers(env)
}

// sendToPeers writes the envelope to every outgoing connection. Connections
// that fail are closed, their read loop cleans up after them.
func (s *State) sendToPeers(env network.Envelope) {
	s.connMu.RLock()
	conns := make(map[string]*network.Conn, len(s.outgoing))
	for address, conn := range s.outgoing {
		conns[address] = conn
	}
	s.connMu.RUnlock()

	for address, conn := range conns {
		if err := conn.Send(env); err != nil {
			s.evHandler("state: sendToPeers: %s: %s: ERROR: %s", env.Type, address, err)
			conn.Close()
			continue
		}
	}

	s.evHandler("state: sendToPeers: %s: sent to %d outgoing peers", env.Type, len(conns))
}

// reply answers a request over the connection it arrived on.
func (s *State) reply(conn *network.Conn, typ network.Type, payload any) {
	if err := conn.SendPayload(typ, s.id, payload); err != nil {
		s.evHandler("state: reply: %s: conn[%s]: ERROR: %s", typ, conn.ID, err)
	}
}

// sendToClient delivers a payload to the client connection with the id.
func (s *State) sendToClient(connID string, typ network.Type, payload any) {
	if connID == "" {
		return
	}

	s.connMu.RLock()
	conn, exists := s.incoming[connID]
	s.connMu.RUnlock()

	if !exists {
		s.evHandler("state: sendToClient: %s: conn[%s]: client is gone", typ, connID)
		return
	}

	s.reply(conn, typ, payload)
}

// hasOutgoing reports whether this node holds a connection to the address.
func (s *State) hasOutgoing(address string) bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	_, exists := s.outgoing[address]
	return exists || s.dialing[address]
}

// OutgoingCount returns the number of established outgoing connections.
func (s *State) OutgoingCount() int {
	s.connMu.RLock()
	defer s.connMu.RUnlock()

	return len(s.outgoing)
}

// dropPeerAt forgets the peers listening on the address.
func (s *State) dropPeerAt(address string) {
	for _, p := range s.knownPeers.Copy("") {
		if p.Address == address {
			s.knownPeers.Remove(p.ID)
			s.evHandler("state: dropPeerAt: peer[%s]: %s: removed", p.ID, address)
		}
	}
}

// connect asks the worker to open a connection to the address.
func (s *State) connect(address string) {
	if address == "" || address == s.host || s.hasOutgoing(address) {
		return
	}

	if s.Worker == nil {
		return
	}

	s.Worker.SignalConnect(address)
}
