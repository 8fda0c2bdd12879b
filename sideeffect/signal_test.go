package sideeffect

import (
	"sync"
	"testing"
)

func TestSignalStartsNotProduced(t *testing.T) {
	sig := NewSignal()
	if sig.Produced() {
		t.Fatal("fresh signal must read as not produced")
	}
}

func TestSignalMarkProduced(t *testing.T) {
	sig := NewSignal()
	sig.MarkProduced()
	if !sig.Produced() {
		t.Fatal("expect produced after MarkProduced")
	}
}

func TestSignalIdempotent(t *testing.T) {
	sig := NewSignal()
	for i := 0; i < 10; i++ {
		sig.MarkProduced()
		if !sig.Produced() {
			t.Fatalf("signal reverted after MarkProduced call %d", i+1)
		}
	}
}

// N goroutines racing MarkProduced against concurrent reads: the final value
// must be produced, and no reader may observe a reversion once it saw
// produced. Run with -race.
func TestSignalConcurrentMark(t *testing.T) {
	sig := NewSignal()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sig.MarkProduced()
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sig.Produced() && !sig.Produced() {
				t.Error("observed reversion from produced to not produced")
			}
		}()
	}
	wg.Wait()

	if !sig.Produced() {
		t.Fatal("expect produced after concurrent marks")
	}
}

// The signal must outlive its writer: reading after the observed body is long
// gone is the whole point.
func TestSignalReadAfterWriterGone(t *testing.T) {
	sig := NewSignal()
	func() {
		sig.MarkProduced()
	}()
	if !sig.Produced() {
		t.Fatal("expect produced to survive the writer")
	}
}
