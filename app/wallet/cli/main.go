package main

import "github.com/healthchain/ledger/app/wallet/cli/cmd"

func main() {
	cmd.Execute()
}
