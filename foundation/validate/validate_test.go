package validate_test

import (
	"testing"

	"github.com/healthchain/ledger/foundation/validate"
)

type handshake struct {
	PeerID  string `json:"peer_id" validate:"required"`
	Address string `json:"address" validate:"required,hostname_port"`
}

func Test_Check(t *testing.T) {
	if err := validate.Check(handshake{PeerID: "abcd1234", Address: "localhost:9080"}); err != nil {
		t.Fatalf("Should validate a complete value: %s", err)
	}

	err := validate.Check(handshake{Address: "localhost"})
	if !validate.IsFieldErrors(err) {
		t.Fatalf("Should get back field errors, got %v", err)
	}

	fields := validate.GetFieldErrors(err).Fields()
	if _, exists := fields["peer_id"]; !exists {
		t.Logf("got: %v", fields)
		t.Fatalf("Should report the missing peer id by its json name.")
	}
	if _, exists := fields["address"]; !exists {
		t.Logf("got: %v", fields)
		t.Fatalf("Should report the malformed address.")
	}
}
