package state

import (
	"runtime/debug"

	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/peer"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// dispatch decodes the envelope and routes it to its handler. Malformed or
// unknown messages are logged and dropped, the connection stays open. A
// handler that panics is logged and its message is not forwarded.
func (s *State) dispatch(conn *network.Conn, env network.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			s.evHandler("state: dispatch: conn[%s]: %s: PANIC[%v]: TRACE[%s]", conn.ID, env.Type, r, string(debug.Stack()))
		}
	}()

	// Gossip is handled once per envelope id.
	if env.Type.IsGossip() && !s.seen.Mark(env.ID) {
		return
	}

	payload, err := env.Decode()
	if err != nil {
		s.evHandler("state: dispatch: conn[%s]: sender[%s]: WARNING: %s", conn.ID, env.SenderID, err)
		if isClientType(env.Type) {
			s.reply(conn, network.TypeError, network.ErrorData{Error: err.Error()})
		}
		return
	}

	s.route(conn, env, payload)

	// Forward gossip to this node's peers once it is handled.
	if env.Type.IsGossip() {
		s.sendToPeers(env)
	}
}

// route hands the decoded payload to its handler.
func (s *State) route(conn *network.Conn, env network.Envelope, payload any) {
	switch p := payload.(type) {
	case *network.Handshake:
		if env.Type == network.TypeHandshake {
			s.handleHandshake(conn, *p)
			return
		}
		s.handleHandshakeAck(*p)

	case *network.Peers:
		s.handlePeers(env.SenderID, *p)

	case *network.AddAccount:
		s.handleAddAccount(*p)

	case *network.Submission:
		if env.Type == network.TypeClientAddTransaction {
			s.SubmitTransaction(consensus.Item{Tx: p.Tx, Record: p.Record, Client: conn.ID})
			return
		}
		s.handleVerifyTransaction(env.SenderID, *p)

	case *consensus.Vote:
		s.handleTransactionVote(*p)

	case *network.BlockCandidate:
		s.handleVerifyBlock(env.SenderID, *p)

	case *network.FinalBlock:
		s.handleFinalBlock(*p)

	case *network.VerifyRequest:
		s.reply(conn, network.TypeVerifyResult, s.VerifyTransaction(*p))

	case *network.PatientRequest:
		resp := network.PatientTxs{
			Patient:      p.Patient,
			Transactions: s.chain.TransactionsOfPatient(p.Patient),
		}
		s.reply(conn, network.TypePatientTxs, resp)

	case *network.Empty:
		s.handleEmpty(conn, env.Type)

	default:
		s.evHandler("state: dispatch: conn[%s]: %s: ignored", conn.ID, env.Type)
	}
}

// handleEmpty serves the requests that carry no payload.
func (s *State) handleEmpty(conn *network.Conn, typ network.Type) {
	switch typ {
	case network.TypeGetData:
		data := network.ReceiveData{
			Chain:    s.chain.Blocks(),
			Accounts: s.registry.Public(),
		}
		s.reply(conn, network.TypeReceiveData, data)

	case network.TypeClientGetChain:
		s.reply(conn, network.TypeChain, network.ChainData{Chain: s.chain.Blocks()})

	case network.TypeClientGetQueueStatus:
		s.reply(conn, network.TypeQueueStatus, s.QueueStatus())

	case network.TypeClientAddAccount:
		id, err := s.AddAccount()
		if err != nil {
			s.reply(conn, network.TypeError, network.ErrorData{Error: err.Error()})
			return
		}
		s.reply(conn, network.TypeAccount, id)
	}
}

// =============================================================================

func (s *State) handleHandshake(conn *network.Conn, hs network.Handshake) {
	s.evHandler("state: handleHandshake: peer[%s]: %s", hs.PeerID, hs.Address)

	if hs.PeerID == s.id {
		return
	}

	s.reply(conn, network.TypeHandshakeAck, network.Handshake{PeerID: s.id, Address: s.host})

	if s.knownPeers.Add(peer.New(hs.PeerID, hs.Address)) {
		s.sharePeers()
	}
}

func (s *State) handleHandshakeAck(hs network.Handshake) {
	s.evHandler("state: handleHandshakeAck: peer[%s]: %s", hs.PeerID, hs.Address)

	if hs.PeerID == s.id {
		return
	}

	if s.knownPeers.Add(peer.New(hs.PeerID, hs.Address)) {
		s.sharePeers()
	}
}

// handlePeers opens connections to the peers this node is not connected to.
func (s *State) handlePeers(senderID string, peers network.Peers) {
	s.evHandler("state: handlePeers: sender[%s]: peers[%d]", senderID, len(peers))

	for _, p := range peers {
		if p.ID == s.id || p.Address == s.host {
			continue
		}
		s.connect(p.Address)
	}
}

// sharePeers tells the connected peers about every peer this node knows so
// the network converges to a full mesh.
func (s *State) sharePeers() {
	peers := append(network.Peers(s.KnownPeers()), peer.New(s.id, s.host))
	s.broadcast(network.TypePeers, peers)
}

func (s *State) handleAddAccount(acct network.AddAccount) {
	added, err := s.registry.Register(signature.Identity{PublicKey: acct.PublicKey})
	if err != nil {
		s.evHandler("state: handleAddAccount: ERROR: %s", err)
		return
	}

	if added {
		s.evHandler("state: handleAddAccount: account[%s]: registered", acct.PublicKey)
	}
}

// =============================================================================

// AddAccount generates a keypair, registers it and announces the public key
// to the network. The keypair is returned to the caller.
func (s *State) AddAccount() (signature.Identity, error) {
	id, err := signature.Generate()
	if err != nil {
		return signature.Identity{}, err
	}

	if _, err := s.registry.Register(id); err != nil {
		return signature.Identity{}, err
	}

	s.evHandler("state: AddAccount: account[%s]: registered", id.PublicKey)

	s.broadcast(network.TypeAddAccount, network.AddAccount{PublicKey: id.PublicKey})

	return id, nil
}

// VerifyTransaction reports whether the transaction is committed and whether
// it carries the specified record hash.
func (s *State) VerifyTransaction(req network.VerifyRequest) network.VerifyResult {
	res := network.VerifyResult{TxID: req.TxID}

	block, found := s.chain.FindTransaction(req.TxID)
	if !found {
		return res
	}

	res.Found = true
	res.Height = block.Header.Height
	res.Matching = block.Tx.Body.RecordHash == req.RecordHash

	return res
}

// isClientType reports whether the message type is a client request.
func isClientType(typ network.Type) bool {
	switch typ {
	case network.TypeClientAddAccount,
		network.TypeClientAddTransaction,
		network.TypeClientGetChain,
		network.TypeClientGetQueueStatus,
		network.TypeClientVerifyTransaction,
		network.TypeClientPatientTransactions:
		return true
	}

	return false
}
