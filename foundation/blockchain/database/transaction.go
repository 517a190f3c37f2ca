package database

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// Set of validation failures reported by Tx.Check in the order they are
// tested.
var (
	ErrUnknownCreator   = errors.New("creator is not a registered address")
	ErrUnknownPatient   = errors.New("patient is not a registered address")
	ErrInvalidSignature = errors.New("signature does not verify over the body")
	ErrMissingFields    = errors.New("record is missing required fields")
	ErrRecordHash       = errors.New("record hash does not match the transaction")
)

// AccountChecker represents the behavior required to check an address exists
// in the node's registry.
type AccountChecker interface {
	Exists(publicKey string) bool
}

// =============================================================================

// TxBody is the attestation an authority signs.
type TxBody struct {
	Creator    string `json:"creator"`     // Public key of the authority certifying the record.
	Patient    string `json:"patient"`     // Public key of the patient the record is about.
	RecordID   string `json:"record_id"`   // Locator of the record in the external store.
	Date       string `json:"date"`        // ISO-8601 date of the attestation.
	RecordHash string `json:"record_hash"` // Hash of the external record.
}

// NewTxBody constructs a transaction body for the record.
func NewTxBody(creator string, patient string, recordID string, date time.Time, record Record) TxBody {
	return TxBody{
		Creator:    creator,
		Patient:    patient,
		RecordID:   recordID,
		Date:       date.UTC().Format(time.RFC3339),
		RecordHash: record.Hash(),
	}
}

// Canonical returns the bytes the signature covers.
func (b TxBody) Canonical() ([]byte, error) {
	return signature.Canonical(b)
}

// Sign uses the creator's identity to produce a signed transaction.
func (b TxBody) Sign(id signature.Identity) (Tx, error) {
	if id.PublicKey != b.Creator {
		return Tx{}, errors.New("signing identity is not the creator")
	}

	sig, err := signature.Sign(b, id)
	if err != nil {
		return Tx{}, err
	}

	tx := Tx{
		ID:        uuid.NewString(),
		Body:      b,
		Signature: sig,
	}

	return tx, nil
}

// =============================================================================

// Tx is a signed attestation. It is never mutated after signing.
type Tx struct {
	ID        string `json:"id" validate:"required"`
	Body      TxBody `json:"body"`
	Signature string `json:"signature"`
}

// Check runs the validation rules in their fixed order and returns the first
// rule that fails.
func (tx Tx) Check(accounts AccountChecker, record Record) error {
	if !accounts.Exists(tx.Body.Creator) {
		return ErrUnknownCreator
	}

	if !accounts.Exists(tx.Body.Patient) {
		return ErrUnknownPatient
	}

	data, err := tx.Body.Canonical()
	if err != nil || !signature.Verify(data, tx.Signature, tx.Body.Creator) {
		return ErrInvalidSignature
	}

	if missing := record.MissingFields(); len(missing) > 0 {
		return fmt.Errorf("%w: %v", ErrMissingFields, missing)
	}

	if record.Hash() != tx.Body.RecordHash {
		return ErrRecordHash
	}

	return nil
}

// Validate reports whether the transaction is acceptable against the registry
// and the external record it references.
func (tx Tx) Validate(accounts AccountChecker, record Record) bool {
	return tx.Check(accounts, record) == nil
}

// String returns the canonical string form of the transaction. This is what
// the merkle root and block hash are computed over.
func (tx Tx) String() string {
	data, err := signature.Canonical(tx)
	if err != nil {
		return ""
	}

	return string(data)
}
