package idempotency

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

func TestStatus(t *testing.T) {
	tests := []struct {
		status   Status
		expected string
		final    bool
	}{
		{StatusPending, "pending", false},
		{StatusSubmitted, "submitted", false},
		{StatusConfirmed, "confirmed", true},
		{StatusFailed, "failed", true},
		{Status(99), "unknown", false},
	}
	for _, tt := range tests {
		if got := tt.status.String(); got != tt.expected {
			t.Errorf("Status(%d).String() = %q, expected %q", tt.status, got, tt.expected)
		}
		if got := tt.status.Final(); got != tt.final {
			t.Errorf("Status(%d).Final() = %v, expected %v", tt.status, got, tt.final)
		}
	}
}

func TestInMemoryStore_Create(t *testing.T) {
	t.Run("creates pending record", func(t *testing.T) {
		store := NewInMemoryStore(0)
		defer store.Stop()

		record, err := store.Create("key1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if record.Key != "key1" || record.Status != StatusPending {
			t.Errorf("unexpected record %+v", record)
		}
	})

	t.Run("rejects a key in flight", func(t *testing.T) {
		store := NewInMemoryStore(0)
		defer store.Stop()

		first, _ := store.Create("key1")
		first.Status = StatusSubmitted
		_ = store.Update(first)

		existing, err := store.Create("key1")
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey, got %v", err)
		}
		if existing.Status != StatusSubmitted {
			t.Errorf("expected the existing record back, got %v", existing.Status)
		}
	})

	t.Run("returns confirmed record as duplicate", func(t *testing.T) {
		store := NewInMemoryStore(0)
		defer store.Stop()

		record, _ := store.Create("key1")
		record.Status = StatusConfirmed
		record.Receipt = &types.Receipt{Status: types.ReceiptStatusSuccessful}
		_ = store.Update(record)

		existing, err := store.Create("key1")
		if !errors.Is(err, ErrDuplicateKey) {
			t.Fatalf("expected ErrDuplicateKey, got %v", err)
		}
		if existing.Receipt == nil {
			t.Error("expected stored receipt")
		}
	})

	t.Run("failed record may be retried", func(t *testing.T) {
		store := NewInMemoryStore(0)
		defer store.Stop()

		record, _ := store.Create("key1")
		record.Status = StatusFailed
		record.Error = errors.New("reverted")
		_ = store.Update(record)

		again, err := store.Create("key1")
		if err != nil {
			t.Fatalf("expected retry to be allowed, got %v", err)
		}
		if again.Status != StatusPending || again.Error != nil {
			t.Errorf("expected a fresh record, got %+v", again)
		}
	})

	t.Run("allows recreate after TTL expiry", func(t *testing.T) {
		store := NewInMemoryStore(50 * time.Millisecond)
		defer store.Stop()

		_, _ = store.Create("key1")
		time.Sleep(60 * time.Millisecond)

		if _, err := store.Create("key1"); err != nil {
			t.Errorf("expected no error after TTL expiry, got %v", err)
		}
	})
}

func TestInMemoryStore_GetReturnsCopies(t *testing.T) {
	store := NewInMemoryStore(0)
	defer store.Stop()

	record, _ := store.Create("key1")
	record.TxHashes = append(record.TxHashes, common.Hash{1})
	record.Wallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	if err := store.Update(record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := store.Get("key1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got.TxHashes[0] = common.Hash{2}
	got.Status = StatusFailed

	again, _ := store.Get("key1")
	if again.TxHashes[0] != (common.Hash{1}) || again.Status != StatusPending {
		t.Errorf("stored record was mutated through a copy: %+v", again)
	}
}

func TestInMemoryStore_Get(t *testing.T) {
	store := NewInMemoryStore(50 * time.Millisecond)
	defer store.Stop()

	if _, err := store.Get("nonexistent"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	_, _ = store.Create("key1")
	time.Sleep(60 * time.Millisecond)
	if _, err := store.Get("key1"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound for expired record, got %v", err)
	}
}

func TestInMemoryStore_Update(t *testing.T) {
	store := NewInMemoryStore(0)
	defer store.Stop()

	if err := store.Update(&Record{Key: "nonexistent"}); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}

	record, _ := store.Create("key1")
	before := record.UpdatedAt
	time.Sleep(5 * time.Millisecond)
	record.Nonce = 7
	if err := store.Update(record); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !record.UpdatedAt.After(before) {
		t.Error("expected UpdatedAt to move forward")
	}
	got, _ := store.Get("key1")
	if got.Nonce != 7 {
		t.Errorf("expected nonce 7, got %d", got.Nonce)
	}
}

func TestInMemoryStore_DeleteAndCleanup(t *testing.T) {
	store := NewInMemoryStore(50 * time.Millisecond)
	defer store.Stop()

	_, _ = store.Create("key1")
	_, _ = store.Create("key2")
	if err := store.Delete("key1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete("nonexistent"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if store.Size() != 1 {
		t.Fatalf("expected size 1, got %d", store.Size())
	}

	time.Sleep(120 * time.Millisecond)
	if store.Size() != 0 {
		t.Errorf("expected empty store after cleanup, got size %d", store.Size())
	}
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	store := NewInMemoryStore(0)
	defer store.Stop()

	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("key-%d", j)
				if _, err := store.Create(key); err == nil {
					mu.Lock()
					created++
					mu.Unlock()
				}
				_, _ = store.Get(key)
			}
		}()
	}
	wg.Wait()

	if created != 50 {
		t.Errorf("expected each key to be created once, got %d creations", created)
	}
}

func TestInMemoryStore_Stop(t *testing.T) {
	store := NewInMemoryStore(100 * time.Millisecond)
	store.Stop()
	store.Stop()

	if _, err := store.Create("key1"); err != nil {
		t.Errorf("expected store to still work after stop, got error: %v", err)
	}
}
