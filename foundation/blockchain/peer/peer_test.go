package peer_test

import (
	"testing"

	"github.com/healthchain/ledger/foundation/blockchain/peer"
)

func Test_CRUD(t *testing.T) {
	type table struct {
		name  string
		peers []peer.Peer
	}

	tt := []table{
		{
			name: "basic",
			peers: []peer.Peer{
				{ID: "node1", Address: "localhost:9081"},
				{ID: "node2", Address: "localhost:9082"},
				{ID: "node3", Address: "localhost:9083"},
			},
		},
	}

	for _, tst := range tt {
		f := func(t *testing.T) {
			ps := peer.NewPeerSet()

			for _, peer := range tst.peers {
				if !ps.Add(peer) {
					t.Fatalf("Test %s:\tShould add a new peer.", tst.name)
				}
			}

			if ps.Add(tst.peers[0]) {
				t.Fatalf("Test %s:\tShould not add the same id twice.", tst.name)
			}

			peers := ps.Copy("")
			if len(peers) != len(tst.peers) {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers))
				t.Fatalf("Test %s:\tShould get back the right peers.", tst.name)
			}

			peers = ps.Copy("node2")
			if len(peers) != len(tst.peers)-1 {
				t.Logf("Test %s:\tgot: %d", tst.name, len(peers))
				t.Logf("Test %s:\texp: %d", tst.name, len(tst.peers)-1)
				t.Fatalf("Test %s:\tShould get back the right peers.", tst.name)
			}

			if !ps.HasAddress("localhost:9083") {
				t.Fatalf("Test %s:\tShould find a peer by address.", tst.name)
			}

			ps.Remove("node3")
			if _, exists := ps.Get("node3"); exists || ps.Len() != len(tst.peers)-1 {
				t.Fatalf("Test %s:\tShould remove the peer.", tst.name)
			}
		}

		t.Run(tst.name, f)
	}
}
