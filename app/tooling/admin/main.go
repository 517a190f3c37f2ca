// This program performs administrative tasks against the files of a
// stopped ledger node.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/healthchain/ledger/app/tooling/admin/commands"
	"github.com/healthchain/ledger/foundation/logger"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("ADMIN")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	log.Infow("admin", "version", build)

	return processCommands(os.Args, log)
}

// processCommands handles the execution of the commands specified on
// the command line.
func processCommands(args []string, log *zap.SugaredLogger) error {
	if len(args) < 2 {
		return errors.New("usage: admin chain <disk|badger> <path> | admin accounts <registry-file> [keys-folder]")
	}

	switch args[1] {
	case "chain":
		if err := commands.Chain(args, log); err != nil {
			return fmt.Errorf("checking chain: %w", err)
		}
	case "accounts":
		if err := commands.Accounts(args); err != nil {
			return fmt.Errorf("listing accounts: %w", err)
		}
	default:
		return fmt.Errorf("unknown command %q", args[1])
	}

	return nil
}
