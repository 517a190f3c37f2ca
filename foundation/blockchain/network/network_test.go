package network_test

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/consensus"
	"github.com/healthchain/ledger/foundation/blockchain/network"
	"github.com/gorilla/websocket"
	"github.com/healthchain/ledger/foundation/blockchain/peer"
	"github.com/stretchr/testify/require"
)

func Test_EnvelopeDecode(t *testing.T) {
	env, err := network.NewEnvelope(network.TypeTransactionVote, "node1", consensus.Vote{TxID: "tx1", PeerID: "node1", Vote: true})
	require.NoError(t, err)
	require.NotEmpty(t, env.ID)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var got network.Envelope
	require.NoError(t, json.Unmarshal(data, &got))

	payload, err := got.Decode()
	require.NoError(t, err)

	vote, ok := payload.(*consensus.Vote)
	require.True(t, ok)
	require.Equal(t, "tx1", vote.TxID)
	require.True(t, vote.Vote)
	require.True(t, got.Type.IsGossip())
}

func Test_EnvelopeDecodeFailures(t *testing.T) {
	tt := []struct {
		name string
		env  network.Envelope
	}{
		{"unknown-type", network.Envelope{Type: "PING", Data: json.RawMessage(`{}`)}},
		{"malformed", network.Envelope{Type: network.TypeHandshake, Data: json.RawMessage(`{"peer_id":`)}},
		{"missing-field", network.Envelope{Type: network.TypeHandshake, Data: json.RawMessage(`{"address":"localhost:9080"}`)}},
		{"bad-address", network.Envelope{Type: network.TypeHandshake, Data: json.RawMessage(`{"peer_id":"n1","address":"nowhere"}`)}},
		{"bad-peer", network.Envelope{Type: network.TypePeers, Data: json.RawMessage(`[{"id":"","address":"localhost:9080"}]`)}},
	}

	for _, tst := range tt {
		t.Run(tst.name, func(t *testing.T) {
			_, err := tst.env.Decode()
			require.Error(t, err)
		})
	}

	_, err := network.Envelope{Type: "PING"}.Decode()
	require.True(t, errors.Is(err, network.ErrUnknownType))

	_, err = network.NewEnvelope("PING", "node1", nil)
	require.True(t, errors.Is(err, network.ErrUnknownType))
}

func Test_EnvelopeEmptyData(t *testing.T) {
	env, err := network.NewEnvelope(network.TypeGetData, "node1", nil)
	require.NoError(t, err)

	payload, err := env.Decode()
	require.NoError(t, err)
	require.IsType(t, &network.Empty{}, payload)

	env.Data = nil
	_, err = env.Decode()
	require.NoError(t, err)
}

func Test_Peers(t *testing.T) {
	peers := network.Peers{peer.New("n1", "localhost:9080"), peer.New("n2", "localhost:9081")}

	env, err := network.NewEnvelope(network.TypePeers, "n1", peers)
	require.NoError(t, err)

	payload, err := env.Decode()
	require.NoError(t, err)
	require.Len(t, *payload.(*network.Peers), 2)
}

func Test_Seen(t *testing.T) {
	seen, err := network.NewSeen(2)
	require.NoError(t, err)

	require.True(t, seen.Mark("a"))
	require.False(t, seen.Mark("a"))
	require.True(t, seen.Mark("b"))
	require.True(t, seen.Mark("c"))

	// "a" was evicted.
	require.True(t, seen.Mark("a"))
}

// =============================================================================

func Test_DialAndExchange(t *testing.T) {
	received := make(chan network.Envelope, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := network.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		env, err := conn.Receive()
		if err != nil {
			return
		}
		received <- env

		conn.SendPayload(network.TypeHandshakeAck, "server", network.Handshake{PeerID: "server", Address: "localhost:1"})
		conn.Receive()
	}))
	defer srv.Close()

	address := strings.TrimPrefix(srv.URL, "http://")

	conn, err := network.Dial(context.Background(), address, network.DialConfig{Attempts: 1})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.SendPayload(network.TypeHandshake, "client", network.Handshake{PeerID: "client", Address: "localhost:2"}))

	select {
	case env := <-received:
		require.Equal(t, network.TypeHandshake, env.Type)
		require.Equal(t, "client", env.SenderID)
	case <-time.After(5 * time.Second):
		t.Fatal("Should receive the handshake.")
	}

	env, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, network.TypeHandshakeAck, env.Type)
}

func Test_ReceiveMalformed(t *testing.T) {
	type received struct {
		env network.Envelope
		err error
	}
	ch := make(chan received, 2)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := network.Upgrade(w, r)
		if err != nil {
			return
		}
		defer conn.Close()

		for i := 0; i < 2; i++ {
			env, err := conn.Receive()
			ch <- received{env: env, err: err}
		}
	}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial(network.URL(strings.TrimPrefix(srv.URL, "http://")), nil)
	require.NoError(t, err)
	defer ws.Close()

	env, err := network.NewEnvelope(network.TypeClientGetQueueStatus, "client", nil)
	require.NoError(t, err)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("this is not json")))
	require.NoError(t, ws.WriteJSON(env))

	wait := func() received {
		select {
		case r := <-ch:
			return r
		case <-time.After(5 * time.Second):
			t.Fatal("Should receive a frame.")
		}
		return received{}
	}

	first := wait()
	t.Logf("got: %v", first.err)
	require.ErrorIs(t, first.err, network.ErrMalformed)

	second := wait()
	require.NoError(t, second.err, "Should keep reading after a malformed frame.")
	require.Equal(t, env.ID, second.env.ID)
	require.Equal(t, network.TypeClientGetQueueStatus, second.env.Type)
}

func Test_DialAbandons(t *testing.T) {
	// Grab a free port and release it so nothing is listening.
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := l.Addr().String()
	l.Close()

	var attempts int
	cfg := network.DialConfig{
		Attempts: 3,
		Delay:    10 * time.Millisecond,
		EvHandler: func(v string, args ...any) {
			if strings.HasSuffix(v, "attempt[%d]") {
				attempts++
			}
		},
	}

	_, err = network.Dial(context.Background(), address, cfg)
	require.Error(t, err)
	require.Equal(t, 3, attempts)
}
