package cmd

import (
	"log"

	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/spf13/cobra"
)

var (
	txID      string
	queryFile string
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Print the chain held by the node",
	Run: func(cmd *cobra.Command, args []string) {
		query(network.TypeClientGetChain, nil, network.TypeChain)
	},
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Print the pending transaction queue of the node",
	Run: func(cmd *cobra.Command, args []string) {
		query(network.TypeClientGetQueueStatus, nil, network.TypeQueueStatus)
	},
}

var patientCmd = &cobra.Command{
	Use:   "patient <public-key|name>",
	Short: "Print the committed transactions about a patient",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		query(network.TypeClientPatientTransactions, network.PatientRequest{Patient: resolve(args[0])}, network.TypePatientTxs)
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check a transaction is committed for the record",
	Run:   verifyRun,
}

func init() {
	rootCmd.AddCommand(chainCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(patientCmd)
	rootCmd.AddCommand(verifyCmd)
	verifyCmd.Flags().StringVarP(&txID, "tx", "x", "", "Id of the transaction.")
	verifyCmd.Flags().StringVarP(&queryFile, "record", "r", "", "JSON file holding the record.")
	verifyCmd.MarkFlagRequired("tx")
	verifyCmd.MarkFlagRequired("record")
}

func verifyRun(cmd *cobra.Command, args []string) {
	record, err := readRecord(queryFile)
	if err != nil {
		log.Fatal(err)
	}

	req := network.VerifyRequest{
		TxID:       txID,
		RecordHash: record.Hash(),
	}

	query(network.TypeClientVerifyTransaction, req, network.TypeVerifyResult)
}

func query(typ network.Type, payload any, respType network.Type) {
	resp, err := request(typ, payload, respType)
	if err != nil {
		log.Fatal(err)
	}

	if err := printJSON(resp); err != nil {
		log.Fatal(err)
	}
}
