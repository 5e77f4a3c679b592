package relay

import (
	"sync"
	"testing"
)

func TestAdmissionCap(t *testing.T) {
	adm := NewAdmission(2)

	if !adm.TryAcquire() {
		t.Fatal("First acquire should succeed")
	}
	if !adm.TryAcquire() {
		t.Fatal("Second acquire should succeed")
	}
	if adm.TryAcquire() {
		t.Error("Acquire beyond the cap should fail")
	}
	if adm.Current() != 2 {
		t.Errorf("Expected 2 live connections, got %d", adm.Current())
	}
}

func TestAdmissionReleaseFreesExactlyOneSlot(t *testing.T) {
	adm := NewAdmission(1)

	if !adm.TryAcquire() {
		t.Fatal("Acquire should succeed")
	}
	if adm.TryAcquire() {
		t.Fatal("Acquire at cap should fail")
	}

	adm.Release()
	if !adm.TryAcquire() {
		t.Error("Acquire after release should succeed")
	}
	if adm.TryAcquire() {
		t.Error("Only one slot was freed")
	}
}

func TestAdmissionReleaseFloorsAtZero(t *testing.T) {
	adm := NewAdmission(3)

	adm.Release()
	adm.Release()
	if adm.Current() != 0 {
		t.Errorf("Expected counter floored at 0, got %d", adm.Current())
	}

	if !adm.TryAcquire() {
		t.Error("Acquire should succeed after stray releases")
	}
	if adm.Current() != 1 {
		t.Errorf("Expected 1, got %d", adm.Current())
	}
}

func TestAdmissionConcurrentAcquires(t *testing.T) {
	const maxConns = 16
	adm := NewAdmission(maxConns)

	var wg sync.WaitGroup
	granted := make(chan struct{}, 64)
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if adm.TryAcquire() {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	if count != maxConns {
		t.Errorf("Expected exactly %d grants, got %d", maxConns, count)
	}
	if adm.Current() != maxConns {
		t.Errorf("Expected counter at %d, got %d", maxConns, adm.Current())
	}
}
