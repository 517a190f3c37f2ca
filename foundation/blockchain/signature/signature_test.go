package signature_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
)

const (
	pkHexKey = "fae85851bdf5c9f49923722ce38f3c1defcfd3619ef5453230a58ad805499959"
)

type body struct {
	Name string `json:"name"`
	City string `json:"city"`
}

// =============================================================================

func Test_Signing(t *testing.T) {
	value := body{
		Name: "Bill",
		City: "Miami",
	}

	pk, err := crypto.HexToECDSA(pkHexKey)
	if err != nil {
		t.Fatalf("Should be able to generate a private key: %s", err)
	}
	id := signature.FromPrivateKey(pk)

	sig, err := signature.Sign(value, id)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	data, err := signature.Canonical(value)
	if err != nil {
		t.Fatalf("Should be able to canonicalize data: %s", err)
	}

	if !signature.Verify(data, sig, id.PublicKey) {
		t.Fatalf("Should be able to verify the signature.")
	}

	// Flip every byte of the canonical form one at a time.
	for i := range data {
		changed := make([]byte, len(data))
		copy(changed, data)
		changed[i] ^= 0x01

		if signature.Verify(changed, sig, id.PublicKey) {
			t.Fatalf("Should fail verification when byte %d changes.", i)
		}
	}
}

func Test_VerifyWrongKey(t *testing.T) {
	value := body{Name: "Bill"}

	id1, err := signature.Generate()
	if err != nil {
		t.Fatalf("Should be able to generate an identity: %s", err)
	}
	id2, err := signature.Generate()
	if err != nil {
		t.Fatalf("Should be able to generate an identity: %s", err)
	}

	sig, err := signature.Sign(value, id1)
	if err != nil {
		t.Fatalf("Should be able to sign data: %s", err)
	}

	data, _ := signature.Canonical(value)
	if signature.Verify(data, sig, id2.PublicKey) {
		t.Fatalf("Should not verify with another identity's public key.")
	}

	tt := []struct {
		name string
		sig  string
		pub  string
	}{
		{name: "empty-sig", sig: "", pub: id1.PublicKey},
		{name: "short-sig", sig: "0x0102", pub: id1.PublicKey},
		{name: "not-hex", sig: "zz", pub: id1.PublicKey},
		{name: "bad-pub", sig: sig, pub: "0x1234"},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			if signature.Verify(data, tst.sig, tst.pub) {
				t.Fatalf("Test %s:\tShould not verify bad input.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}

func Test_Canonical(t *testing.T) {
	value := map[string]any{
		"z":    1,
		"a":    "x<y",
		"mid":  map[string]any{"b": true, "a": nil},
		"name": "Đorđević",
	}
	exp := `{"a":"x<y","mid":{"a":null,"b":true},"name":"Đorđević","z":1}`

	data, err := signature.Canonical(value)
	if err != nil {
		t.Fatalf("Should be able to canonicalize a map: %s", err)
	}

	if string(data) != exp {
		t.Logf("got: %s", data)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should get back keys sorted with compact separators.")
	}

	data, err = signature.Canonical(body{Name: "Bill", City: "Miami"})
	if err != nil {
		t.Fatalf("Should be able to canonicalize a struct: %s", err)
	}

	exp = `{"city":"Miami","name":"Bill"}`
	if string(data) != exp {
		t.Logf("got: %s", data)
		t.Logf("exp: %s", exp)
		t.Fatalf("Should get back struct fields sorted by name.")
	}
}

func Test_Hash(t *testing.T) {
	value := body{Name: "Bill"}

	h1 := signature.Hash(value)
	h2 := signature.Hash(value)
	if h1 != h2 {
		t.Logf("got: %s", h1)
		t.Logf("exp: %s", h2)
		t.Fatalf("Should get back the same hash twice.")
	}

	if len(h1) != 64 {
		t.Fatalf("Should get back a 64 character hash, got %d", len(h1))
	}

	// SHA-256 of the empty string.
	const empty = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if h := signature.HashString(""); h != empty {
		t.Logf("got: %s", h)
		t.Logf("exp: %s", empty)
		t.Fatalf("Should get back the known hash of the empty string.")
	}
}
