package merchant

import (
	"context"
	"testing"
	"time"
)

func seedDirectory(t *testing.T) *MemoryDirectory {
	t.Helper()
	d := NewMemoryDirectory(DefaultLockoutPolicy())
	err := d.Upsert(context.Background(), Merchant{
		TeamID:              "team-1",
		TeamSlug:            "demo-team",
		Secret:              "s3cret",
		IsActive:            true,
		SupportedCurrencies: []string{"RUB", "USD"},
		MinPerPayment:       1000,
		MaxPerPayment:       50_000_000,
	})
	if err != nil {
		t.Fatalf("seed merchant: %v", err)
	}
	return d
}

func TestLookup(t *testing.T) {
	d := seedDirectory(t)

	m, err := d.Lookup(context.Background(), "demo-team")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if m.TeamID != "team-1" || !m.SupportsCurrency("USD") || m.SupportsCurrency("EUR") {
		t.Errorf("unexpected merchant: %+v", m)
	}

	if _, err := d.Lookup(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("Lookup(missing) = %v, want ErrNotFound", err)
	}
}

func TestLockoutAfterConsecutiveFailures(t *testing.T) {
	d := seedDirectory(t)
	ctx := context.Background()

	for i := 0; i < DefaultLockoutPolicy().MaxFailures; i++ {
		m, _ := d.Lookup(ctx, "demo-team")
		if m.Locked(time.Now()) {
			t.Fatalf("locked after only %d failures", i)
		}
		if err := d.RecordAuthOutcome(ctx, "demo-team", false); err != nil {
			t.Fatalf("RecordAuthOutcome: %v", err)
		}
	}

	m, _ := d.Lookup(ctx, "demo-team")
	if !m.Locked(time.Now()) {
		t.Error("merchant not locked after max consecutive failures")
	}
}

func TestSuccessClearsFailures(t *testing.T) {
	d := seedDirectory(t)
	ctx := context.Background()

	d.RecordAuthOutcome(ctx, "demo-team", false)
	d.RecordAuthOutcome(ctx, "demo-team", false)
	d.RecordAuthOutcome(ctx, "demo-team", true)

	m, _ := d.Lookup(ctx, "demo-team")
	if m.FailedAuthAttempts != 0 {
		t.Errorf("FailedAuthAttempts = %d after success, want 0", m.FailedAuthAttempts)
	}
	if m.LastAuthAt.IsZero() {
		t.Error("LastAuthAt not stamped on success")
	}
}

func TestFailureWindowResets(t *testing.T) {
	d := seedDirectory(t)
	ctx := context.Background()

	base := time.Now().UTC()
	d.now = func() time.Time { return base }
	for i := 0; i < 4; i++ {
		d.RecordAuthOutcome(ctx, "demo-team", false)
	}

	// A failure well outside the rolling window restarts the count.
	d.now = func() time.Time { return base.Add(time.Hour) }
	d.RecordAuthOutcome(ctx, "demo-team", false)

	m, _ := d.Lookup(ctx, "demo-team")
	if m.FailedAuthAttempts != 1 {
		t.Errorf("FailedAuthAttempts = %d, want 1 after window reset", m.FailedAuthAttempts)
	}
	if m.Locked(d.now()) {
		t.Error("merchant must not be locked after window reset")
	}
}

func TestCachedDirectoryInvalidation(t *testing.T) {
	underlying := seedDirectory(t)
	d := NewCachedDirectory(underlying, time.Minute)
	ctx := context.Background()

	if _, err := d.Lookup(ctx, "demo-team"); err != nil {
		t.Fatalf("Lookup: %v", err)
	}

	// Mutate behind the cache, then write through the cache: the entry must
	// be invalidated so the next read sees the new lockout state.
	for i := 0; i < 5; i++ {
		if err := d.RecordAuthOutcome(ctx, "demo-team", false); err != nil {
			t.Fatalf("RecordAuthOutcome: %v", err)
		}
	}
	m, err := d.Lookup(ctx, "demo-team")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if !m.Locked(time.Now()) {
		t.Error("cached directory returned stale lockout state")
	}
}
