package cmd

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/healthchain/ledger/foundation/blockchain/signature"
	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print the public key for the specific account",
	Run:   accountRun,
}

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Ask the node to create and announce a new account",
	Run:   registerRun,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	rootCmd.AddCommand(registerCmd)
}

func accountRun(cmd *cobra.Command, args []string) {
	id, err := loadIdentity()
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(id.PublicKey)
}

// registerRun stores the keypair the node generated under the account name.
func registerRun(cmd *cobra.Command, args []string) {
	resp, err := request(network.TypeClientAddAccount, nil, network.TypeAccount)
	if err != nil {
		log.Fatal(err)
	}

	id := resp.(*signature.Identity)

	privateKey, err := id.ECDSA()
	if err != nil {
		log.Fatal(err)
	}

	path := getPrivateKeyPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		log.Fatal(err)
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		log.Fatal(err)
	}

	fmt.Println(id.PublicKey)
}

// loadIdentity reads the private key of the account.
func loadIdentity() (signature.Identity, error) {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return signature.Identity{}, err
	}

	return signature.FromPrivateKey(privateKey), nil
}
