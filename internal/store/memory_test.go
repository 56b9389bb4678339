package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewRecordCodeWins(t *testing.T) {
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("CEST", 2*3600))
	rec := NewRecord(map[string]string{"phone_number": "420777938821", "code": "forged", "ap": "aa:bb"}, "123456", issued)

	if rec.Code() != "123456" {
		t.Fatalf("Code() = %s, want 123456", rec.Code())
	}
	if rec["ap"] != "aa:bb" || rec["phone_number"] != "420777938821" {
		t.Fatalf("query fields not merged: %v", rec)
	}
	if rec[FieldIssuedAt] != "2024-05-01T10:00:00Z" {
		t.Fatalf("issued_at = %s", rec[FieldIssuedAt])
	}
}

func TestMemoryPutOverwritesAndCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(0)

	if _, err := m.Get(ctx, "420"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() on empty store = %v, want ErrNotFound", err)
	}

	first := Record{"code": "111111", "ap": "x"}
	if err := m.Put(ctx, "420", first); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	first["code"] = "mutated"

	if err := m.Put(ctx, "420", Record{"code": "222222"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := m.Get(ctx, "420")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Code() != "222222" {
		t.Fatalf("Code() = %s, want 222222", got.Code())
	}
	if _, ok := got["ap"]; ok {
		t.Fatalf("overwrite kept stale field: %v", got)
	}
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory(time.Minute)
	m.now = func() time.Time { return now }

	if err := m.Put(ctx, "k", Record{"code": "1"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	now = now.Add(59 * time.Second)
	if _, err := m.Get(ctx, "k"); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	now = now.Add(time.Second)
	if _, err := m.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry = %v, want ErrNotFound", err)
	}
}

func TestMemoryExpiredGetKeepsConcurrentPut(t *testing.T) {
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)
	var onNow func()
	m := NewMemory(time.Minute)
	m.now = func() time.Time {
		if f := onNow; f != nil {
			onNow = nil
			f()
		}
		return now
	}

	if err := m.Put(ctx, "420", Record{"code": "111111"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	now = now.Add(2 * time.Minute)

	// The fresh Put lands between the expired read and the delete.
	onNow = func() {
		if err := m.Put(ctx, "420", Record{"code": "222222"}); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if _, err := m.Get(ctx, "420"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() of expired entry = %v, want ErrNotFound", err)
	}

	got, err := m.Get(ctx, "420")
	if err != nil {
		t.Fatalf("Get() after concurrent Put error = %v", err)
	}
	if got.Code() != "222222" {
		t.Fatalf("Code() = %s, want 222222", got.Code())
	}
}
