package cmd

import (
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/database"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/spf13/cobra"
)

var (
	patient    string
	recordFile string
	recordID   string
)

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Attest to a record and wait for the outcome",
	Run:   submitRun,
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().StringVarP(&patient, "patient", "t", "", "Public key or key file name of the patient.")
	submitCmd.Flags().StringVarP(&recordFile, "record", "r", "", "JSON file holding the record.")
	submitCmd.Flags().StringVarP(&recordID, "record-id", "i", "", "Locator of the record in the record store.")
	submitCmd.MarkFlagRequired("patient")
	submitCmd.MarkFlagRequired("record")
}

func submitRun(cmd *cobra.Command, args []string) {
	creator, err := loadIdentity()
	if err != nil {
		log.Fatal(err)
	}

	record, err := readRecord(recordFile)
	if err != nil {
		log.Fatal(err)
	}

	if recordID == "" {
		recordID = recordFile
	}

	body := database.NewTxBody(creator.PublicKey, resolve(patient), recordID, time.Now(), record)
	tx, err := body.Sign(creator)
	if err != nil {
		log.Fatal(err)
	}

	resp, err := request(network.TypeClientAddTransaction, network.Submission{Tx: tx, Record: record}, network.TypeClientResult)
	if err != nil {
		log.Fatal(err)
	}

	if err := printJSON(resp); err != nil {
		log.Fatal(err)
	}
}

// readRecord loads a record document from a JSON file.
func readRecord(path string) (database.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var record database.Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}

	return record, nil
}
