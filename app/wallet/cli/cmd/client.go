package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/healthchain/ledger/foundation/blockchain/network"
)

// responseWait is how long a command waits for the node to answer. A
// submission waits through the vote and the block race.
const responseWait = 2 * time.Minute

// request sends a client message to the node and waits for the response of
// the expected type.
func request(typ network.Type, payload any, respType network.Type) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), responseWait)
	defer cancel()

	conn, err := network.Dial(ctx, nodeAddress, network.DialConfig{Attempts: 1})
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SendPayload(typ, "ledger-cli", payload); err != nil {
		return nil, err
	}

	type result struct {
		payload any
		err     error
	}
	ch := make(chan result, 1)

	go func() {
		for {
			env, err := conn.Receive()
			if err != nil {
				if errors.Is(err, network.ErrMalformed) {
					continue
				}
				ch <- result{err: err}
				return
			}

			if env.Type != respType && env.Type != network.TypeError {
				continue
			}

			payload, err := env.Decode()
			if err != nil {
				ch <- result{err: err}
				return
			}

			if e, ok := payload.(*network.ErrorData); ok {
				ch <- result{err: errors.New(e.Error)}
				return
			}

			ch <- result{payload: payload}
			return
		}
	}()

	select {
	case res := <-ch:
		return res.payload, res.err
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for %s: %w", respType, ctx.Err())
	}
}

// printJSON writes the value as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "    ")
	return enc.Encode(v)
}
