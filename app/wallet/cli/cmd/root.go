// Package cmd contains the ledger client app.
package cmd

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/healthchain/ledger/foundation/nameservice"
	"github.com/spf13/cobra"
)

var (
	accountName string
	accountPath string
	nodeAddress string
)

const (
	keyExtenstion = ".ecdsa"
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&accountName, "account", "a", "private.ecdsa", "Path to the private key.")
	rootCmd.PersistentFlags().StringVarP(&accountPath, "account-path", "p", "zblock/keys/", "Path to the directory with private keys.")
	rootCmd.PersistentFlags().StringVarP(&nodeAddress, "node", "n", "localhost:9080", "Address of the node to talk to.")
}

var rootCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Client for the attestation ledger",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func getPrivateKeyPath() string {
	if !strings.HasSuffix(accountName, keyExtenstion) {
		accountName += keyExtenstion
	}

	return filepath.Join(accountPath, accountName)
}

// resolve turns the name of a key file in the account path into its public
// key. Anything else is returned as is.
func resolve(nameOrKey string) string {
	ns, err := nameservice.New(accountPath)
	if err != nil {
		return nameOrKey
	}

	return ns.Resolve(nameOrKey)
}
