package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fairwaydesk/teeflow/internal/domain"
)

func TestGuardAdmitOnce(t *testing.T) {
	guard := NewGuard(NewMemoryAdmitter(), time.Hour)
	ctx := context.Background()

	admitted, err := guard.Admit(ctx, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if !admitted {
		t.Fatal("expected first delivery to be admitted")
	}

	admitted, err = guard.Admit(ctx, "msg-1")
	if err != nil {
		t.Fatal(err)
	}
	if admitted {
		t.Fatal("expected replay to be rejected")
	}

	admitted, _ = guard.Admit(ctx, "msg-2")
	if !admitted {
		t.Fatal("a different key must not be affected")
	}
}

func TestGuardReleaseReadmits(t *testing.T) {
	guard := NewGuard(NewMemoryAdmitter(), time.Hour)
	ctx := context.Background()

	if ok, _ := guard.Admit(ctx, "msg-1"); !ok {
		t.Fatal("expected first delivery to be admitted")
	}
	if err := guard.Release(ctx, "msg-1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := guard.Admit(ctx, "msg-1"); !ok {
		t.Fatal("a released key must be admitted again")
	}
	if ok, _ := guard.Admit(ctx, "msg-1"); ok {
		t.Fatal("the re-admitted key must dedupe replays again")
	}
}

func TestGuardConcurrentAdmit(t *testing.T) {
	guard := NewGuard(NewMemoryAdmitter(), time.Hour)
	ctx := context.Background()

	const deliveries = 50
	var wg sync.WaitGroup
	var mu sync.Mutex
	admittedCount := 0

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := guard.Admit(ctx, "same-key")
			if err != nil {
				t.Error(err)
				return
			}
			if ok {
				mu.Lock()
				admittedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admittedCount != 1 {
		t.Errorf("expected exactly one admission of %d concurrent deliveries, got %d", deliveries, admittedCount)
	}
}

func TestGuardExpiry(t *testing.T) {
	guard := NewGuard(NewMemoryAdmitter(), time.Millisecond)
	ctx := context.Background()

	if ok, _ := guard.Admit(ctx, "msg-1"); !ok {
		t.Fatal("expected first admission")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _ := guard.Admit(ctx, "msg-1"); !ok {
		t.Error("expected readmission after the retention window lapsed")
	}
}

func TestSynthesizeKey(t *testing.T) {
	arrival := time.Date(2026, 4, 15, 10, 0, 0, 0, time.UTC)

	a := SynthesizeKey(domain.SourceEmail, "Golf in April", arrival)
	b := SynthesizeKey(domain.SourceEmail, "Golf in April", arrival)
	if a != b {
		t.Error("same inputs must synthesize the same key")
	}

	if SynthesizeKey(domain.SourceEmail, "Golf in May", arrival) == a {
		t.Error("different subjects must synthesize different keys")
	}
	if SynthesizeKey(domain.SourcePaymentWebhook, "Golf in April", arrival) == a {
		t.Error("different sources must synthesize different keys")
	}
	if SynthesizeKey(domain.SourceEmail, "Golf in April", arrival.Add(time.Second)) == a {
		t.Error("different arrival seconds must synthesize different keys")
	}
}
