package events_test

import (
	"testing"

	"github.com/healthchain/ledger/foundation/events"
)

func Test_Events(t *testing.T) {
	evts := events.New()

	ch1 := evts.Acquire("viewer1")
	ch2 := evts.Acquire("viewer2")

	if evts.Receivers() != 2 {
		t.Fatalf("Should have two receivers, got %d", evts.Receivers())
	}

	evts.Send("state: handleVerifyBlock: candidate")

	for _, ch := range []<-chan events.Event{ch1, ch2} {
		e := <-ch
		if e.Message != "state: handleVerifyBlock: candidate" || e.Time.IsZero() {
			t.Logf("got: %+v", e)
			t.Fatalf("Should receive the event.")
		}
	}

	if err := evts.Release("viewer1"); err != nil {
		t.Fatalf("Should be able to release a receiver: %s", err)
	}
	if _, open := <-ch1; open {
		t.Fatalf("Should close the released channel.")
	}
	if err := evts.Release("viewer1"); err == nil {
		t.Fatalf("Should not release a receiver twice.")
	}

	evts.Shutdown()
	if _, open := <-ch2; open {
		t.Fatalf("Should close every channel on shutdown.")
	}
}
