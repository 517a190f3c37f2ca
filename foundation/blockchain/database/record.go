// Package database defines the data model of the ledger: external records,
// signed transactions and blocks, including the proof of work search.
package database

import (
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

// RequiredFields are the fields every external record must carry before a
// transaction referencing it can be accepted.
var RequiredFields = []string{
	"id",
	"patient_id",
	"patient_name",
	"doctor_name",
	"doctor_id",
	"hospital_name",
	"hospital_id",
}

// Record is the full external record document a transaction attests to. The
// ledger never inspects it beyond the required field check and hashing.
type Record map[string]any

// MissingFields returns the required fields the record does not contain.
func (r Record) MissingFields() []string {
	var missing []string
	for _, field := range RequiredFields {
		if _, exists := r[field]; !exists {
			missing = append(missing, field)
		}
	}

	return missing
}

// HasRequiredFields reports whether every required field is present.
func (r Record) HasRequiredFields() bool {
	return len(r.MissingFields()) == 0
}

// Hash returns the hash of the canonical form of the record.
func (r Record) Hash() string {
	return signature.Hash(map[string]any(r))
}
