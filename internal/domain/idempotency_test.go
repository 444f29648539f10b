package domain

import (
	"testing"
	"time"
)

func TestIdempotencyStatusValid(t *testing.T) {
	tests := []struct {
		name   string
		status IdempotencyStatus
		want   bool
	}{
		{name: "processing", status: IdempotencyStatusProcessing, want: true},
		{name: "done", status: IdempotencyStatusDone, want: true},
		{name: "failed", status: IdempotencyStatusFailed, want: true},
		{name: "invalid", status: IdempotencyStatus("broken"), want: false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.status.Valid(); got != tc.want {
				t.Fatalf("status %q valid=%v, want %v", tc.status, got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordExpired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		ttlAt time.Time
		want  bool
	}{
		{name: "zero ttl never expires", ttlAt: time.Time{}, want: false},
		{name: "future ttl", ttlAt: now.Add(time.Minute), want: false},
		{name: "ttl equal to now", ttlAt: now, want: true},
		{name: "past ttl", ttlAt: now.Add(-time.Second), want: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			record := IdempotencyRecord{Key: "k", TTLAt: tc.ttlAt}
			if got := record.Expired(now); got != tc.want {
				t.Fatalf("Expired()=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestIdempotencyRecordReplayable(t *testing.T) {
	if (IdempotencyRecord{Status: IdempotencyStatusProcessing}).Replayable() {
		t.Fatal("processing record must not be replayable")
	}
	if !(IdempotencyRecord{Status: IdempotencyStatusDone}).Replayable() {
		t.Fatal("done record must be replayable")
	}
}

func TestNewProcessingRecord(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	record, err := NewProcessingRecord("  key-1 ", " hash ", time.Time{}, now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Key != "key-1" || record.RequestHash != "hash" {
		t.Fatalf("expected trimmed key and hash, got %+v", record)
	}
	if record.Status != IdempotencyStatusProcessing || !record.TTLAt.Equal(now.Add(DefaultIdempotencyTTL)) {
		t.Fatalf("unexpected record %+v", record)
	}

	if _, err := NewProcessingRecord(" ", "hash", now, now); err != ErrIdempotencyKeyRequired {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := NewProcessingRecord("key", "", now, now); err != ErrIdempotencyRequestHashRequired {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
}

func TestIdempotencyRecordConflict(t *testing.T) {
	record := IdempotencyRecord{Key: "k", RequestHash: "a"}
	if err := record.Conflict("a"); err != ErrIdempotencyKeyAlreadyExists {
		t.Fatalf("same hash: got %v", err)
	}
	if err := record.Conflict("b"); err != ErrIdempotencyHashMismatch {
		t.Fatalf("different hash: got %v", err)
	}
}
