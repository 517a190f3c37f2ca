package nameservice_test

import (
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
	"github.com/healthchain/ledger/foundation/nameservice"
	"github.com/stretchr/testify/require"
)

func Test_LookupAndResolve(t *testing.T) {
	dir := t.TempDir()

	privateKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.NoError(t, crypto.SaveECDSA(filepath.Join(dir, "milica.ecdsa"), privateKey))

	publicKey := signature.PublicKeyHex(privateKey.PublicKey)

	ns, err := nameservice.New(dir)
	require.NoError(t, err)

	require.Equal(t, "milica", ns.Lookup(publicKey))
	require.Equal(t, publicKey, ns.Resolve("milica"))
	require.Equal(t, "0xabc", ns.Resolve("0xabc"), "Should pass unknown values through.")
	require.Equal(t, "0xabc", ns.Lookup("0xabc"))
	require.Len(t, ns.Copy(), 1)
}

func Test_MissingFolder(t *testing.T) {
	ns, err := nameservice.New(filepath.Join(t.TempDir(), "none"))
	require.NoError(t, err)
	require.Empty(t, ns.Copy())
}
