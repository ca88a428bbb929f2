package nonce

import (
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var testWallet = common.HexToAddress("0x1234567890123456789012345678901234567890")

func TestNewTracker(t *testing.T) {
	tracker := NewTracker()
	if tracker == nil {
		t.Fatal("expected non-nil tracker")
	}
	if _, ok := tracker.LastFinalized(testWallet, 1); ok {
		t.Error("expected no nonce for a new wallet")
	}
}

func TestTracker_RecordFinalizedKeepsHighest(t *testing.T) {
	tracker := NewTracker()

	tracker.RecordFinalized(testWallet, 1, 10)
	tracker.RecordFinalized(testWallet, 1, 5)

	nonce, ok := tracker.LastFinalized(testWallet, 1)
	if !ok || nonce != 10 {
		t.Errorf("expected 10, got %d (ok=%v)", nonce, ok)
	}
}

func TestTracker_ChainsAreIndependent(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordFinalized(testWallet, 1, 3)
	tracker.RecordFinalized(testWallet, 137, 40)

	if n, _ := tracker.LastFinalized(testWallet, 1); n != 3 {
		t.Errorf("expected 3 on chain 1, got %d", n)
	}
	if n, _ := tracker.LastFinalized(testWallet, 137); n != 40 {
		t.Errorf("expected 40 on chain 137, got %d", n)
	}
}

func TestTracker_Check(t *testing.T) {
	tracker := NewTracker()

	if err := tracker.Check(testWallet, 1, 0); err != nil {
		t.Errorf("unknown wallet must pass, got %v", err)
	}

	tracker.RecordFinalized(testWallet, 1, 4)
	tests := []struct {
		remote  uint64
		wantErr bool
	}{
		{remote: 3, wantErr: true},
		{remote: 4, wantErr: true},
		{remote: 5, wantErr: false},
	}
	for _, tt := range tests {
		err := tracker.Check(testWallet, 1, tt.remote)
		if tt.wantErr != (err != nil) {
			t.Errorf("Check(%d) = %v, wantErr %v", tt.remote, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrNonceBehind) {
			t.Errorf("expected ErrNonceBehind, got %v", err)
		}
	}
}

func TestTracker_Forget(t *testing.T) {
	tracker := NewTracker()
	tracker.RecordFinalized(testWallet, 1, 4)
	tracker.Forget(testWallet, 1)
	tracker.Forget(common.Address{}, 1)
	if _, ok := tracker.LastFinalized(testWallet, 1); ok {
		t.Error("expected nonce to be forgotten")
	}
}

func TestTracker_Concurrent(t *testing.T) {
	tracker := NewTracker()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			tracker.RecordFinalized(testWallet, 1, n)
			_ = tracker.Check(testWallet, 1, n)
		}(uint64(i))
	}
	wg.Wait()
	if n, _ := tracker.LastFinalized(testWallet, 1); n != 99 {
		t.Errorf("expected 99, got %d", n)
	}
}
