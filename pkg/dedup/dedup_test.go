package dedup

import (
	"testing"
	"time"
)

func TestDeduperFirstSeenProcessesSubsequentSuppressed(t *testing.T) {
	d := New(time.Minute, 100)

	if !d.ShouldProcess("a") {
		t.Fatal("first occurrence of id: expected ShouldProcess=true")
	}
	if d.ShouldProcess("a") {
		t.Fatal("repeat within ttl: expected ShouldProcess=false")
	}
}

func TestDeduperEmptyIDAlwaysProcesses(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.ShouldProcess("") {
		t.Fatal("empty id: expected ShouldProcess=true")
	}
	if !d.ShouldProcess("") {
		t.Fatal("empty id repeat: expected ShouldProcess=true, empty id is never deduped")
	}
}

func TestDeduperExpiresAfterTTL(t *testing.T) {
	d := New(20*time.Millisecond, 100)
	if !d.ShouldProcess("a") {
		t.Fatal("first occurrence: expected ShouldProcess=true")
	}
	time.Sleep(40 * time.Millisecond)
	if !d.ShouldProcess("a") {
		t.Fatal("occurrence after ttl expiry: expected ShouldProcess=true")
	}
}

func TestDeduperDistinctIDsIndependentlyTracked(t *testing.T) {
	d := New(time.Minute, 100)
	if !d.ShouldProcess("a") || !d.ShouldProcess("b") {
		t.Fatal("distinct ids: expected both to process on first occurrence")
	}
	if d.ShouldProcess("a") || d.ShouldProcess("b") {
		t.Fatal("distinct ids: expected both suppressed on repeat within ttl")
	}
}

func TestDeduperZeroValuesFallBackToDefaults(t *testing.T) {
	d := New(0, 0)
	if d.ttl != 10*time.Minute {
		t.Fatalf("ttl = %v, want default 10m", d.ttl)
	}
	if d.max != 10000 {
		t.Fatalf("max = %v, want default 10000", d.max)
	}
}
