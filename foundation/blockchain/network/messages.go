// Package network defines the wire protocol spoken between nodes and their
// clients along with the websocket connection handling.
package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/healthchain/ledger/foundation/blockchain/chain"
	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/peer"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
	"github.com/healthchain/ledger/foundation/validate"
)

// ErrUnknownType is returned when an envelope carries a type the protocol
// doesn't define.
var ErrUnknownType = errors.New("unknown message type")

// Type tags an envelope with the kind of payload it carries.
type Type string

// Set of message types exchanged between nodes.
const (
	TypeHandshake           Type = "HANDSHAKE"
	TypeHandshakeAck        Type = "HANDSHAKE_ACK"
	TypePeers               Type = "PEERS"
	TypeGetData             Type = "GET_DATA"
	TypeReceiveData         Type = "RECEIVE_DATA"
	TypeAddAccount          Type = "ADD_ACCOUNT"
	TypeVerifyTransaction   Type = "VERIFY_TRANSACTION"
	TypeTransactionVote     Type = "TRANSACTION_VOTE"
	TypeVerifyBlock         Type = "VERIFY_BLOCK"
	TypeFinalBlockConsensus Type = "FINAL_BLOCK_CONSENSUS"
)

// Set of message types sent by clients and the responses they get back.
const (
	TypeClientAddAccount          Type = "CLIENT_ADD_ACCOUNT"
	TypeClientAddTransaction      Type = "CLIENT_ADD_TRANSACTION"
	TypeClientGetChain            Type = "CLIENT_GET_CHAIN"
	TypeClientGetQueueStatus      Type = "CLIENT_GET_QUEUE_STATUS"
	TypeClientVerifyTransaction   Type = "CLIENT_VERIFY_TRANSACTION"
	TypeClientPatientTransactions Type = "CLIENT_GET_ALL_TRANSACTIONS_OF_PATIENT"

	TypeClientResult Type = "CLIENT_RESULT"
	TypeAccount      Type = "ACCOUNT"
	TypeChain        Type = "CHAIN"
	TypeQueueStatus  Type = "QUEUE_STATUS"
	TypeVerifyResult Type = "VERIFY_RESULT"
	TypePatientTxs   Type = "PATIENT_TRANSACTIONS"
	TypeError        Type = "ERROR"
)

// payloads maps every type to a constructor of its payload value.
var payloads = map[Type]func() any{
	TypeHandshake:           func() any { return &Handshake{} },
	TypeHandshakeAck:        func() any { return &Handshake{} },
	TypePeers:               func() any { return &Peers{} },
	TypeGetData:             func() any { return &Empty{} },
	TypeReceiveData:         func() any { return &ReceiveData{} },
	TypeAddAccount:          func() any { return &AddAccount{} },
	TypeVerifyTransaction:   func() any { return &Submission{} },
	TypeTransactionVote:     func() any { return &consensus.Vote{} },
	TypeVerifyBlock:         func() any { return &BlockCandidate{} },
	TypeFinalBlockConsensus: func() any { return &FinalBlock{} },

	TypeClientAddAccount:          func() any { return &Empty{} },
	TypeClientAddTransaction:      func() any { return &Submission{} },
	TypeClientGetChain:            func() any { return &Empty{} },
	TypeClientGetQueueStatus:      func() any { return &Empty{} },
	TypeClientVerifyTransaction:   func() any { return &VerifyRequest{} },
	TypeClientPatientTransactions: func() any { return &PatientRequest{} },

	TypeClientResult: func() any { return &ClientResult{} },
	TypeAccount:      func() any { return &signature.Identity{} },
	TypeChain:        func() any { return &ChainData{} },
	TypeQueueStatus:  func() any { return &consensus.QueueStatus{} },
	TypeVerifyResult: func() any { return &VerifyResult{} },
	TypePatientTxs:   func() any { return &PatientTxs{} },
	TypeError:        func() any { return &ErrorData{} },
}

// gossip is the set of types a node re-forwards to its own connections.
var gossip = map[Type]bool{
	TypeAddAccount:          true,
	TypeVerifyTransaction:   true,
	TypeTransactionVote:     true,
	TypeVerifyBlock:         true,
	TypeFinalBlockConsensus: true,
}

// IsGossip reports whether messages of the type are re-forwarded.
func (t Type) IsGossip() bool {
	return gossip[t]
}

// =============================================================================

// Envelope is the frame every message travels in.
type Envelope struct {
	ID       string          `json:"id"`
	Type     Type            `json:"type"`
	Data     json.RawMessage `json:"data"`
	SenderID string          `json:"sender_id"`
}

// NewEnvelope constructs an envelope with a fresh id for the payload.
func NewEnvelope(typ Type, senderID string, payload any) (Envelope, error) {
	if _, exists := payloads[typ]; !exists {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}

	if payload == nil {
		payload = Empty{}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", typ, err)
	}

	env := Envelope{
		ID:       uuid.NewString(),
		Type:     typ,
		Data:     data,
		SenderID: senderID,
	}

	return env, nil
}

// Decode unmarshals and validates the payload into the value the type
// defines. The returned value is a pointer to the payload struct.
func (env Envelope) Decode() (any, error) {
	mk, exists := payloads[env.Type]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}

	payload := mk()

	data := env.Data
	if len(data) == 0 || string(data) == "null" {
		data = []byte("{}")
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", env.Type, err)
	}

	if err := check(payload); err != nil {
		return nil, fmt.Errorf("validating %s: %w", env.Type, err)
	}

	return payload, nil
}

// check validates struct payloads. Payloads that are slices are validated
// element by element.
func check(payload any) error {
	if peers, ok := payload.(*Peers); ok {
		for _, p := range *peers {
			if err := validate.Check(PeerInfo(p)); err != nil {
				return err
			}
		}
		return nil
	}

	return validate.Check(payload)
}

// =============================================================================

// Empty is the payload of requests that carry no data.
type Empty struct{}

// Handshake introduces a node to the peer it connected to.
type Handshake struct {
	PeerID  string `json:"peer_id" validate:"required"`
	Address string `json:"address" validate:"required,hostname_port"`
}

// PeerInfo is a known peer as it is gossiped.
type PeerInfo struct {
	ID      string `json:"id" validate:"required"`
	Address string `json:"address" validate:"required,hostname_port"`
}

// Peers is the list of peers a node knows, including itself.
type Peers []peer.Peer

// ReceiveData is the state handed to a node joining the network.
type ReceiveData struct {
	Chain    []database.Block     `json:"chain" validate:"required,min=1"`
	Accounts []signature.Identity `json:"accounts"`
}

// AddAccount announces a newly registered public key.
type AddAccount struct {
	PublicKey string `json:"public_key" validate:"required"`
}

// Submission is a signed transaction together with the external record it
// attests to.
type Submission struct {
	Tx     database.Tx     `json:"transaction"`
	Record database.Record `json:"record" validate:"required"`
}

// BlockCandidate is a mined block competing in the race.
type BlockCandidate struct {
	Block  database.Block  `json:"block"`
	Record database.Record `json:"record" validate:"required"`
}

// FinalBlock is the winner of a race as decided by the finalizer.
type FinalBlock struct {
	Block         database.Block  `json:"winning_block"`
	Record        database.Record `json:"record" validate:"required"`
	WinningSender string          `json:"winning_sender"`
	TotalBlocks   int             `json:"total_blocks"`
	Finalizer     string          `json:"finalizer" validate:"required"`

	// FinalizerAddress is where nodes that are further behind pull the
	// chain from.
	FinalizerAddress string `json:"finalizer_address,omitempty"`
}

// VerifyRequest asks whether a transaction is committed with the record hash.
type VerifyRequest struct {
	TxID       string `json:"tx_id" validate:"required"`
	RecordHash string `json:"record_hash" validate:"required"`
}

// VerifyResult answers a VerifyRequest.
type VerifyResult struct {
	TxID     string `json:"tx_id"`
	Found    bool   `json:"found"`
	Matching bool   `json:"matching"`
	Height   uint64 `json:"height,omitempty"`
}

// PatientRequest asks for the committed transactions about a patient.
type PatientRequest struct {
	Patient string `json:"patient" validate:"required"`
}

// PatientTxs answers a PatientRequest.
type PatientTxs struct {
	Patient      string            `json:"patient"`
	Transactions []chain.PatientTx `json:"transactions"`
}

// ChainData is the ordered set of blocks held by a node.
type ChainData struct {
	Chain []database.Block `json:"chain"`
}

// Set of outcomes reported back to a client for a submission.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
	StatusError    = "error"
)

// ClientResult is the single outcome of a submitted transaction.
type ClientResult struct {
	TxID      string           `json:"tx_id"`
	Status    string           `json:"status"`
	Height    uint64           `json:"height,omitempty"`
	BlockHash string           `json:"block_hash,omitempty"`
	Tally     *consensus.Tally `json:"tally,omitempty"`
	Error     string           `json:"error,omitempty"`
}

// ErrorData is returned to a client whose request could not be handled.
type ErrorData struct {
	Error string `json:"error"`
}
