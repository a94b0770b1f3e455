package eventbus

import (
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

func TestSubscribeSeesInitSentinel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()

	select {
	case e := <-ch:
		if e.Kind != Init {
			t.Fatalf("initial event kind = %v, want Init", e.Kind)
		}
	default:
		t.Fatalf("new subscriber channel was empty, want seeded Init event")
	}
}

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch // drain the Init sentinel

	hash := chainhash.Hash{1, 2, 3}
	b.Publish(Event{Kind: HashBlockEvent, Hash: hash})

	select {
	case e := <-ch:
		if e.Kind != HashBlockEvent || e.Hash != hash {
			t.Fatalf("got %+v, want HashBlockEvent with hash %x", e, hash)
		}
	case <-time.After(time.Second):
		t.Fatalf("Publish did not deliver within timeout")
	}
}

func TestPublishToMultipleSubscribersFanOut(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()
	<-ch1
	<-ch2

	b.Publish(Event{Kind: HashBlockEvent, Hash: chainhash.Hash{9}})

	for _, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Hash != (chainhash.Hash{9}) {
				t.Fatalf("got hash %x, want 09..00", e.Hash)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber did not receive the event")
		}
	}
}

func TestPublishOverwritesStaleValueForSlowConsumer(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch // drain Init, channel now empty

	b.Publish(Event{Kind: HashBlockEvent, Hash: chainhash.Hash{1}})
	// Consumer never drains the first event before the second is published.
	b.Publish(Event{Kind: HashBlockEvent, Hash: chainhash.Hash{2}})

	select {
	case e := <-ch:
		if e.Hash != (chainhash.Hash{2}) {
			t.Fatalf("got hash %x, want the latest (02..00), not a stale queued value", e.Hash)
		}
	default:
		t.Fatalf("channel empty, want the overwritten latest event")
	}

	// Channel should hold exactly one pending value, never more.
	select {
	case <-ch:
		t.Fatalf("channel held a second buffered event, want latest-value semantics (capacity 1)")
	default:
	}
}

func TestSeqIncreasesMonotonically(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	defer cancel()
	<-ch

	b.Publish(Event{Kind: HashBlockEvent})
	first := <-ch
	b.Publish(Event{Kind: HashBlockEvent})
	second := <-ch

	if second.Seq <= first.Seq {
		t.Fatalf("Seq did not increase: first=%d second=%d", first.Seq, second.Seq)
	}
}

func TestCancelRemovesSubscriber(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe()
	<-ch
	cancel()

	b.Publish(Event{Kind: HashBlockEvent})
	select {
	case e, ok := <-ch:
		if ok {
			t.Fatalf("cancelled subscriber received %+v, want closed/empty channel", e)
		}
	case <-time.After(50 * time.Millisecond):
		// No delivery to the cancelled subscriber — correct.
	}
}

func TestNewSubscriberSeesLatestNotInit(t *testing.T) {
	b := New()
	b.Publish(Event{Kind: RawTxEvent})

	ch, cancel := b.Subscribe()
	defer cancel()
	select {
	case e := <-ch:
		if e.Kind != RawTxEvent {
			t.Fatalf("late subscriber saw %v, want the already-published RawTxEvent", e.Kind)
		}
	default:
		t.Fatalf("late subscriber channel empty, want seeded latest value")
	}
}
